package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User represents a marketplace account (buyer, seller or admin).
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Company     string     `json:"company,omitempty"`
	Role        Role       `json:"role"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusPaused   ListingStatus = "paused"
	ListingStatusArchived ListingStatus = "archived"
)

// Listing is a product offer published by a seller.
type Listing struct {
	ID          string        `json:"id"`
	SellerID    string        `json:"sellerId"`
	Title       string        `json:"title"`
	Description string        `json:"description"` // markdown source
	Category    string        `json:"category"`
	PriceCents  int64         `json:"priceCents"`
	Currency    string        `json:"currency"`
	Stock       int           `json:"stock"`
	Status      ListingStatus `json:"status"`
	CreatedAt   int64         `json:"createdAt"`
	UpdatedAt   int64         `json:"updatedAt"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a purchase of a listing by a buyer.
type Order struct {
	ID             string      `json:"id"`
	ListingID      string      `json:"listingId"`
	BuyerID        string      `json:"buyerId"`
	SellerID       string      `json:"sellerId"`
	Quantity       int         `json:"quantity"`
	UnitPriceCents int64       `json:"unitPriceCents"`
	Currency       string      `json:"currency"`
	Status         OrderStatus `json:"status"`
	CreatedAt      int64       `json:"createdAt"`
	UpdatedAt      int64       `json:"updatedAt"`
}

// Conversation is a durable message thread between marketplace users,
// usually attached to a listing. UpdatedAt is bumped on every new message.
type Conversation struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ConversationParticipant joins a user to a conversation and carries the
// per-user presence fields mutated by the chat layer.
type ConversationParticipant struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           Role   `json:"role"`
	Online         bool   `json:"online"`
	LastSeen       int64  `json:"lastSeen"`
}

type DeliveryStatus string

const (
	DeliveryStatusSent DeliveryStatus = "sent"
)

// Message is a single chat message. Content may be empty when at least one
// attachment (file ID) is present.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	SenderName     string         `json:"senderName"`
	SenderType     Role           `json:"senderType"`
	Content        string         `json:"content"`
	Attachments    []string       `json:"attachments,omitempty"`
	IsRead         bool           `json:"isRead"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      int64          `json:"createdAt"`
	UpdatedAt      int64          `json:"updatedAt"`
}

type NotificationKind string

const (
	NotificationKindMessage NotificationKind = "message"
	NotificationKindOrder   NotificationKind = "order"
)

// Notification is a stored per-user notification, also fanned out over web
// push when the user has registered subscriptions.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	Kind           NotificationKind `json:"kind"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	ConversationID string           `json:"conversationId,omitempty"`
	OrderID        string           `json:"orderId,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      int64            `json:"createdAt"`
}

// PushSubscription holds the browser push endpoint and keys for one device.
type PushSubscription struct {
	UserID    string `json:"userId"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	CreatedAt int64  `json:"createdAt"`
}

// ClientEvent represents an event sent from the client to the server over the
// chat transport.
type ClientEvent struct {
	Type           ClientEventType `json:"type"`
	UserID         string          `json:"userId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Content        string          `json:"content,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	SenderName     string          `json:"senderName,omitempty"`
	SenderType     Role            `json:"senderType,omitempty"`
	Attachments    []string        `json:"attachments,omitempty"`
}

// ServerEvent represents an event sent to the client.
type ServerEvent struct {
	Type           ServerEventType `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	IsOnline       bool            `json:"isOnline"`
	LastSeen       int64           `json:"lastSeen,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	Status         DeliveryStatus  `json:"status,omitempty"`
	ReadBy         string          `json:"readBy,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type ClientEventType string

const (
	ClientEventTypeIdentify   ClientEventType = "identify"
	ClientEventTypeSend       ClientEventType = "send_message"
	ClientEventTypeMarkRead   ClientEventType = "mark_as_read"
	ClientEventTypeTyping     ClientEventType = "typing"
	ClientEventTypeStopTyping ClientEventType = "stop_typing"
)

type ServerEventType string

const (
	ServerEventTypeNewMessage   ServerEventType = "new_message"
	ServerEventTypeMessageSent  ServerEventType = "message_sent"
	ServerEventTypeMessagesRead ServerEventType = "messages_read"
	ServerEventTypeTyping       ServerEventType = "user_typing"
	ServerEventTypeStopTyping   ServerEventType = "user_stop_typing"
	ServerEventTypeStatusChange ServerEventType = "user_status_change"
	ServerEventTypeError        ServerEventType = "error"
)

// APIResponse is the generic success/failure envelope for HTTP handlers.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
