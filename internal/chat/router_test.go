package chat

import (
	"errors"
	"testing"
	"time"

	"tradepost/internal/models"
)

type mockStore struct {
	memberships   map[string][]models.ConversationParticipant
	participants  map[string][]models.ConversationParticipant
	presenceCalls []presenceCall
	messages      []models.Message
	markReadCalls int
	markReadErr   error
	upsertErr     error
}

type presenceCall struct {
	userID   string
	online   bool
	lastSeen int64
}

func newMockStore() *mockStore {
	return &mockStore{
		memberships:  make(map[string][]models.ConversationParticipant),
		participants: make(map[string][]models.ConversationParticipant),
	}
}

func (m *mockStore) ListParticipantsByUser(userID string) ([]models.ConversationParticipant, error) {
	return m.memberships[userID], nil
}

func (m *mockStore) ListParticipants(conversationID string) ([]models.ConversationParticipant, error) {
	return m.participants[conversationID], nil
}

func (m *mockStore) SetUserPresence(userID string, online bool, lastSeen int64) error {
	m.presenceCalls = append(m.presenceCalls, presenceCall{userID, online, lastSeen})
	return nil
}

func (m *mockStore) UpsertMessage(message models.Message) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockStore) MarkConversationRead(conversationID, readerID string) (int, error) {
	if m.markReadErr != nil {
		return 0, m.markReadErr
	}
	m.markReadCalls++
	return 1, nil
}

type mockNotifier struct {
	notified []string
}

func (m *mockNotifier) NotifyNewMessage(userID string, message models.Message) {
	m.notified = append(m.notified, userID)
}

// twoUserRoom wires a hub with alice and bob identified and joined into conv1.
func twoUserRoom(t *testing.T) (*Router, *mockStore, *mockNotifier, chan models.ServerEvent, chan models.ServerEvent) {
	t.Helper()

	store := newMockStore()
	store.memberships["alice"] = []models.ConversationParticipant{{ConversationID: "conv1", UserID: "alice"}}
	store.memberships["bob"] = []models.ConversationParticipant{{ConversationID: "conv1", UserID: "bob"}}
	store.participants["conv1"] = []models.ConversationParticipant{
		{ConversationID: "conv1", UserID: "alice"},
		{ConversationID: "conv1", UserID: "bob"},
	}

	notifier := &mockNotifier{}
	hub := NewHub()
	router := NewRouter(hub, store, notifier)
	router.now = func() time.Time { return time.Unix(1700000000, 0) }

	aliceCh := hub.Register("connA", "alice")
	bobCh := hub.Register("connB", "bob")
	router.Dispatch("connA", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "alice"})
	router.Dispatch("connB", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "bob"})

	// Drain the identify-time status events so tests observe only their own.
	for len(aliceCh) > 0 {
		<-aliceCh
	}
	for len(bobCh) > 0 {
		<-bobCh
	}
	return router, store, notifier, aliceCh, bobCh
}

func drain(ch chan models.ServerEvent) []models.ServerEvent {
	var evs []models.ServerEvent
	for len(ch) > 0 {
		evs = append(evs, <-ch)
	}
	return evs
}

func TestRouter_IdentifyBindsAndAnnounces(t *testing.T) {
	store := newMockStore()
	store.memberships["alice"] = []models.ConversationParticipant{{ConversationID: "conv1", UserID: "alice"}}

	hub := NewHub()
	router := NewRouter(hub, store, nil)

	// bob is already in the room and should hear about alice.
	store.memberships["bob"] = []models.ConversationParticipant{{ConversationID: "conv1", UserID: "bob"}}
	bobCh := hub.Register("connB", "bob")
	router.Dispatch("connB", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "bob"})
	drain(bobCh)

	aliceCh := hub.Register("connA", "alice")
	router.Dispatch("connA", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "alice"})

	evs := drain(bobCh)
	if len(evs) != 1 {
		t.Fatalf("bob received %d events, want 1", len(evs))
	}
	if evs[0].Type != models.ServerEventTypeStatusChange || evs[0].UserID != "alice" || !evs[0].IsOnline {
		t.Errorf("unexpected status event: %+v", evs[0])
	}
	if evs := drain(aliceCh); len(evs) != 0 {
		t.Errorf("alice received her own status change: %+v", evs)
	}

	if len(store.presenceCalls) == 0 || !store.presenceCalls[len(store.presenceCalls)-1].online {
		t.Error("presence was not set online")
	}
	if hub.UserConnCount("alice") != 1 {
		t.Error("connection not bound to alice")
	}
}

func TestRouter_IdentifyRejectsWrongUser(t *testing.T) {
	store := newMockStore()
	hub := NewHub()
	router := NewRouter(hub, store, nil)

	ch := hub.Register("connA", "alice")
	router.Dispatch("connA", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "mallory"})

	evs := drain(ch)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
		t.Fatalf("expected one error event, got %+v", evs)
	}
	if state, _ := hub.State("connA"); state.UserID != "" {
		t.Error("connection became identified despite the mismatch")
	}
	if len(store.presenceCalls) != 0 {
		t.Error("presence changed on rejected identify")
	}
}

func TestRouter_IdentifyRequiresUserID(t *testing.T) {
	hub := NewHub()
	router := NewRouter(hub, newMockStore(), nil)

	ch := hub.Register("connA", "alice")
	router.Dispatch("connA", models.ClientEvent{Type: models.ClientEventTypeIdentify})

	evs := drain(ch)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
		t.Fatalf("expected one error event, got %+v", evs)
	}
}

func TestRouter_SendMessagePersistsThenBroadcasts(t *testing.T) {
	router, store, _, aliceCh, bobCh := twoUserRoom(t)

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeSend,
		ConversationID: "conv1",
		SenderID:       "alice",
		SenderName:     "Alice",
		SenderType:     models.RoleBuyer,
		Content:        "hello <script>alert(1)</script>",
	})

	if len(store.messages) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(store.messages))
	}
	msg := store.messages[0]
	if msg.Content != "hello " {
		t.Errorf("content not sanitized: %q", msg.Content)
	}
	if msg.ID == "" || msg.Status != models.DeliveryStatusSent {
		t.Errorf("unexpected message: %+v", msg)
	}

	bobEvs := drain(bobCh)
	if len(bobEvs) != 1 || bobEvs[0].Type != models.ServerEventTypeNewMessage {
		t.Fatalf("bob received %+v", bobEvs)
	}
	if bobEvs[0].Message == nil || bobEvs[0].Message.ID != msg.ID {
		t.Error("broadcast message does not match the persisted one")
	}

	// The sender gets the room broadcast plus the delivery ack.
	aliceEvs := drain(aliceCh)
	if len(aliceEvs) != 2 {
		t.Fatalf("alice received %d events, want 2: %+v", len(aliceEvs), aliceEvs)
	}
	var sawAck bool
	for _, ev := range aliceEvs {
		if ev.Type == models.ServerEventTypeMessageSent {
			sawAck = true
			if ev.MessageID != msg.ID || ev.Status != models.DeliveryStatusSent {
				t.Errorf("bad ack: %+v", ev)
			}
		}
	}
	if !sawAck {
		t.Error("sender did not receive message_sent")
	}
}

func TestRouter_SendMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		ev   models.ClientEvent
	}{
		{"missing conversation", models.ClientEvent{Type: models.ClientEventTypeSend, SenderID: "alice", Content: "x"}},
		{"missing sender", models.ClientEvent{Type: models.ClientEventTypeSend, ConversationID: "conv1", Content: "x"}},
		{"sender mismatch", models.ClientEvent{Type: models.ClientEventTypeSend, ConversationID: "conv1", SenderID: "bob", Content: "x"}},
		{"no content or attachments", models.ClientEvent{Type: models.ClientEventTypeSend, ConversationID: "conv1", SenderID: "alice"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, store, _, aliceCh, bobCh := twoUserRoom(t)

			router.Dispatch("connA", tc.ev)

			if len(store.messages) != 0 {
				t.Errorf("message persisted despite invalid payload")
			}
			evs := drain(aliceCh)
			if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
				t.Errorf("caller received %+v, want one error event", evs)
			}
			if evs := drain(bobCh); len(evs) != 0 {
				t.Errorf("other member received %+v for an invalid send", evs)
			}
		})
	}
}

func TestRouter_SendMessageUnidentified(t *testing.T) {
	store := newMockStore()
	hub := NewHub()
	router := NewRouter(hub, store, nil)

	ch := hub.Register("connA", "alice")
	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeSend,
		ConversationID: "conv1",
		SenderID:       "alice",
		Content:        "hi",
	})

	evs := drain(ch)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
		t.Fatalf("expected one error event, got %+v", evs)
	}
	if len(store.messages) != 0 {
		t.Error("message persisted for unidentified connection")
	}
}

func TestRouter_SendMessageAttachmentsOnly(t *testing.T) {
	router, store, _, _, bobCh := twoUserRoom(t)

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeSend,
		ConversationID: "conv1",
		SenderID:       "alice",
		Attachments:    []string{"file-1"},
	})

	if len(store.messages) != 1 {
		t.Fatalf("attachment-only message was not persisted")
	}
	if evs := drain(bobCh); len(evs) != 1 {
		t.Errorf("bob received %d events, want 1", len(evs))
	}
}

func TestRouter_SendMessagePersistFailure(t *testing.T) {
	router, store, _, aliceCh, bobCh := twoUserRoom(t)
	store.upsertErr = errors.New("disk full")

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeSend,
		ConversationID: "conv1",
		SenderID:       "alice",
		Content:        "hi",
	})

	evs := drain(aliceCh)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
		t.Errorf("caller received %+v, want one error event", evs)
	}
	if evs := drain(bobCh); len(evs) != 0 {
		t.Errorf("broadcast happened despite persist failure: %+v", evs)
	}
}

func TestRouter_SendMessageNotifiesOffline(t *testing.T) {
	router, store, notifier, _, _ := twoUserRoom(t)

	// carol is a participant with no live connection.
	store.participants["conv1"] = append(store.participants["conv1"],
		models.ConversationParticipant{ConversationID: "conv1", UserID: "carol"})

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeSend,
		ConversationID: "conv1",
		SenderID:       "alice",
		Content:        "hi",
	})

	if len(notifier.notified) != 1 || notifier.notified[0] != "carol" {
		t.Errorf("notified %v, want only carol", notifier.notified)
	}
}

func TestRouter_MarkRead(t *testing.T) {
	router, store, _, aliceCh, bobCh := twoUserRoom(t)

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeMarkRead,
		ConversationID: "conv1",
	})

	if store.markReadCalls != 1 {
		t.Fatalf("MarkConversationRead called %d times, want 1", store.markReadCalls)
	}

	evs := drain(bobCh)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeMessagesRead || evs[0].ReadBy != "alice" {
		t.Errorf("bob received %+v", evs)
	}
	if evs := drain(aliceCh); len(evs) != 0 {
		t.Errorf("reader received their own messages_read: %+v", evs)
	}
}

func TestRouter_MarkReadRequiresConversation(t *testing.T) {
	router, store, _, aliceCh, _ := twoUserRoom(t)

	router.Dispatch("connA", models.ClientEvent{Type: models.ClientEventTypeMarkRead})

	if store.markReadCalls != 0 {
		t.Error("MarkConversationRead called without a conversation ID")
	}
	evs := drain(aliceCh)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeError {
		t.Errorf("caller received %+v, want one error event", evs)
	}
}

func TestRouter_TypingRelay(t *testing.T) {
	router, store, _, aliceCh, bobCh := twoUserRoom(t)

	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeTyping,
		ConversationID: "conv1",
	})
	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeStopTyping,
		ConversationID: "conv1",
	})

	evs := drain(bobCh)
	if len(evs) != 2 {
		t.Fatalf("bob received %d events, want 2", len(evs))
	}
	if evs[0].Type != models.ServerEventTypeTyping || evs[1].Type != models.ServerEventTypeStopTyping {
		t.Errorf("unexpected event order: %+v", evs)
	}
	if evs[0].UserID != "alice" {
		t.Errorf("typing attributed to %q", evs[0].UserID)
	}

	if evs := drain(aliceCh); len(evs) != 0 {
		t.Errorf("typing echoed to sender: %+v", evs)
	}
	if len(store.messages) != 0 {
		t.Error("typing indicator was persisted")
	}
}

func TestRouter_TypingIgnoredWhenAnonymous(t *testing.T) {
	store := newMockStore()
	hub := NewHub()
	router := NewRouter(hub, store, nil)

	ch := hub.Register("connA", "alice")
	router.Dispatch("connA", models.ClientEvent{
		Type:           models.ClientEventTypeTyping,
		ConversationID: "conv1",
	})

	if evs := drain(ch); len(evs) != 0 {
		t.Errorf("anonymous typing produced events: %+v", evs)
	}
}

func TestRouter_DisconnectLastConnection(t *testing.T) {
	router, store, _, _, bobCh := twoUserRoom(t)

	router.HandleDisconnect("connA")

	last := store.presenceCalls[len(store.presenceCalls)-1]
	if last.userID != "alice" || last.online {
		t.Errorf("presence after disconnect: %+v", last)
	}

	evs := drain(bobCh)
	if len(evs) != 1 || evs[0].Type != models.ServerEventTypeStatusChange || evs[0].IsOnline {
		t.Errorf("bob received %+v", evs)
	}
}

func TestRouter_DisconnectKeepsPresenceWithSecondConnection(t *testing.T) {
	router, store, _, _, bobCh := twoUserRoom(t)

	// Second live connection for alice.
	router.hub.Register("connA2", "alice")
	router.Dispatch("connA2", models.ClientEvent{Type: models.ClientEventTypeIdentify, UserID: "alice"})
	drain(bobCh)
	presenceBefore := len(store.presenceCalls)

	router.HandleDisconnect("connA")

	if len(store.presenceCalls) != presenceBefore {
		t.Error("presence changed while a second connection remains")
	}
	if evs := drain(bobCh); len(evs) != 0 {
		t.Errorf("status change broadcast while still online: %+v", evs)
	}

	router.HandleDisconnect("connA2")
	last := store.presenceCalls[len(store.presenceCalls)-1]
	if last.online {
		t.Error("presence not flipped offline after the last connection")
	}
	if evs := drain(bobCh); len(evs) != 1 {
		t.Errorf("bob received %d events after final disconnect, want 1", len(evs))
	}
}
