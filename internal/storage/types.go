package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	Company      string `msgpack:"company"`
	Role         string `msgpack:"role"`
	LastSeen     int64  `msgpack:"lastSeen"`
	PasswordHash string `msgpack:"passwordHash"`
	Status       string `msgpack:"status"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBConversation struct {
	ID        string `msgpack:"id"`
	ListingID string `msgpack:"listingId"`
	CreatedAt int64  `msgpack:"createdAt"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBParticipant rows live in a sub-bucket per conversation keyed by user ID.
// A secondary index bucket (user -> conversation IDs) serves the
// "all conversations of a user" lookup done on identify.
type DBParticipant struct {
	ConversationID string `msgpack:"conversationId"`
	UserID         string `msgpack:"userId"`
	Role           string `msgpack:"role"`
	Online         bool   `msgpack:"online"`
	LastSeen       int64  `msgpack:"lastSeen"`
}

func (p *DBParticipant) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBParticipant) MarshalBinary() (data []byte, err error) {
	type alias DBParticipant
	return msgpack.Marshal((*alias)(p))
}

func (p *DBParticipant) UnmarshalBinary(data []byte) error {
	type alias DBParticipant
	return msgpack.Unmarshal(data, (*alias)(p))
}

// DBMessage rows live in a sub-bucket per conversation, keyed by creation
// time (big-endian Unix seconds) plus the message ID so near-simultaneous
// messages stay distinct and time-ordered on cursor scans.
type DBMessage struct {
	ID             string   `msgpack:"id"`
	ConversationID string   `msgpack:"conversationId"`
	SenderID       string   `msgpack:"senderId"`
	SenderName     string   `msgpack:"senderName"`
	SenderType     string   `msgpack:"senderType"`
	Content        string   `msgpack:"content"`
	Attachments    []string `msgpack:"attachments"`
	IsRead         bool     `msgpack:"isRead"`
	CreatedAt      int64    `msgpack:"createdAt"`
	UpdatedAt      int64    `msgpack:"updatedAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBListing struct {
	ID          string `msgpack:"id"`
	SellerID    string `msgpack:"sellerId"`
	Title       string `msgpack:"title"`
	Description string `msgpack:"description"`
	Category    string `msgpack:"category"`
	PriceCents  int64  `msgpack:"priceCents"`
	Currency    string `msgpack:"currency"`
	Stock       int    `msgpack:"stock"`
	Status      string `msgpack:"status"`
	CreatedAt   int64  `msgpack:"createdAt"`
	UpdatedAt   int64  `msgpack:"updatedAt"`
}

func (l *DBListing) Key() []byte {
	return []byte(l.ID)
}

func (l *DBListing) MarshalBinary() (data []byte, err error) {
	type alias DBListing
	return msgpack.Marshal((*alias)(l))
}

func (l *DBListing) UnmarshalBinary(data []byte) error {
	type alias DBListing
	return msgpack.Unmarshal(data, (*alias)(l))
}

type DBOrder struct {
	ID             string `msgpack:"id"`
	ListingID      string `msgpack:"listingId"`
	BuyerID        string `msgpack:"buyerId"`
	SellerID       string `msgpack:"sellerId"`
	Quantity       int    `msgpack:"quantity"`
	UnitPriceCents int64  `msgpack:"unitPriceCents"`
	Currency       string `msgpack:"currency"`
	Status         string `msgpack:"status"`
	CreatedAt      int64  `msgpack:"createdAt"`
	UpdatedAt      int64  `msgpack:"updatedAt"`
}

func (o *DBOrder) Key() []byte {
	return []byte(o.ID)
}

func (o *DBOrder) MarshalBinary() (data []byte, err error) {
	type alias DBOrder
	return msgpack.Marshal((*alias)(o))
}

func (o *DBOrder) UnmarshalBinary(data []byte) error {
	type alias DBOrder
	return msgpack.Unmarshal(data, (*alias)(o))
}

// DBNotification rows live in a sub-bucket per user, keyed by creation time
// plus ID like messages.
type DBNotification struct {
	ID             string `msgpack:"id"`
	UserID         string `msgpack:"userId"`
	Kind           string `msgpack:"kind"`
	Title          string `msgpack:"title"`
	Body           string `msgpack:"body"`
	ConversationID string `msgpack:"conversationId"`
	OrderID        string `msgpack:"orderId"`
	Read           bool   `msgpack:"read"`
	CreatedAt      int64  `msgpack:"createdAt"`
}

func (n *DBNotification) Key() []byte {
	key := make([]byte, 8, 8+len(n.ID))
	binary.BigEndian.PutUint64(key, uint64(n.CreatedAt))
	return append(key, n.ID...)
}

func (n *DBNotification) MarshalBinary() (data []byte, err error) {
	type alias DBNotification
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNotification) UnmarshalBinary(data []byte) error {
	type alias DBNotification
	return msgpack.Unmarshal(data, (*alias)(n))
}

// DBPushSubscription rows live in a sub-bucket per user keyed by endpoint.
type DBPushSubscription struct {
	UserID    string `msgpack:"userId"`
	Endpoint  string `msgpack:"endpoint"`
	P256dh    string `msgpack:"p256dh"`
	Auth      string `msgpack:"auth"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
