package chat

import (
	"log/slog"
	"time"

	"tradepost/internal/content"
	"tradepost/internal/models"

	"github.com/google/uuid"
)

// Store is the persistence surface the event router needs.
type Store interface {
	ListParticipantsByUser(userID string) ([]models.ConversationParticipant, error)
	ListParticipants(conversationID string) ([]models.ConversationParticipant, error)
	SetUserPresence(userID string, online bool, lastSeen int64) error
	UpsertMessage(message models.Message) error
	MarkConversationRead(conversationID, readerID string) (int, error)
}

// Notifier receives messages addressed to users with no live connection, so
// they can be delivered out of band (stored notification, web push).
type Notifier interface {
	NotifyNewMessage(userID string, message models.Message)
}

// Router dispatches inbound client events to handlers. Each handler validates
// its input, persists, then broadcasts derived events to the relevant room.
// Handlers contain their own failures: errors are logged and, where the caller
// expects an acknowledgment, surfaced as an error event to the triggering
// connection only.
type Router struct {
	hub      *Hub
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewRouter(hub *Hub, store Store, notifier Notifier) *Router {
	return &Router{
		hub:      hub,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Dispatch routes one inbound event. Unknown event types are ignored.
func (rt *Router) Dispatch(connID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventTypeIdentify:
		rt.handleIdentify(connID, ev)
	case models.ClientEventTypeSend:
		rt.handleSendMessage(connID, ev)
	case models.ClientEventTypeMarkRead:
		rt.handleMarkRead(connID, ev)
	case models.ClientEventTypeTyping:
		rt.relayTyping(connID, ev, models.ServerEventTypeTyping)
	case models.ClientEventTypeStopTyping:
		rt.relayTyping(connID, ev, models.ServerEventTypeStopTyping)
	}
}

// handleIdentify binds the connection to the claimed user, marks the user's
// participant rows online, joins one room per conversation membership
// (a snapshot taken now; conversations created later are not retroactively
// joined), and tells the other members the user came online.
func (rt *Router) handleIdentify(connID string, ev models.ClientEvent) {
	state, ok := rt.hub.State(connID)
	if !ok {
		return
	}

	if ev.UserID == "" {
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: "userId is required",
		})
		return
	}
	if ev.UserID != state.AuthUserID {
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: "userId does not match the authenticated session",
		})
		return
	}

	if !rt.hub.Bind(connID, ev.UserID) {
		// Already identified.
		return
	}

	now := rt.now().Unix()
	if err := rt.store.SetUserPresence(ev.UserID, true, now); err != nil {
		slog.Error("failed to set presence online", "user_id", ev.UserID, "error", err)
	}

	participants, err := rt.store.ListParticipantsByUser(ev.UserID)
	if err != nil {
		slog.Error("failed to load conversation memberships", "user_id", ev.UserID, "error", err)
		return
	}

	statusEvent := models.ServerEvent{
		Type:     models.ServerEventTypeStatusChange,
		UserID:   ev.UserID,
		IsOnline: true,
		LastSeen: now,
	}
	for _, p := range participants {
		rt.hub.JoinRoom(p.ConversationID, connID)
		statusEvent.ConversationID = p.ConversationID
		rt.hub.Broadcast(p.ConversationID, statusEvent, ev.UserID)
	}
}

// handleSendMessage validates the payload, persists the message (bumping the
// conversation's UpdatedAt), broadcasts it to the whole room, and
// acknowledges the sender with the new message ID. Participants with no live
// connection are handed to the notifier.
func (rt *Router) handleSendMessage(connID string, ev models.ClientEvent) {
	state, ok := rt.hub.State(connID)
	if !ok {
		return
	}

	if msg := validateSend(state, ev); msg != "" {
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: msg,
		})
		return
	}

	now := rt.now().Unix()
	message := models.Message{
		ID:             uuid.NewString(),
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		SenderName:     content.Sanitize(ev.SenderName),
		SenderType:     ev.SenderType,
		Content:        content.Sanitize(ev.Content),
		Attachments:    ev.Attachments,
		Status:         models.DeliveryStatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Persist before broadcast.
	if err := rt.store.UpsertMessage(message); err != nil {
		slog.Error("failed to persist message",
			"conversation_id", ev.ConversationID, "sender_id", ev.SenderID, "error", err)
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: "failed to send message",
		})
		return
	}

	rt.hub.Broadcast(ev.ConversationID, models.ServerEvent{
		Type:           models.ServerEventTypeNewMessage,
		ConversationID: ev.ConversationID,
		Message:        &message,
	}, "")

	rt.hub.Send(connID, models.ServerEvent{
		Type:      models.ServerEventTypeMessageSent,
		MessageID: message.ID,
		Status:    models.DeliveryStatusSent,
	})

	rt.notifyOffline(message)
}

func validateSend(state ConnState, ev models.ClientEvent) string {
	switch {
	case ev.ConversationID == "":
		return "conversationId is required"
	case ev.SenderID == "":
		return "senderId is required"
	case state.UserID == "":
		return "connection is not identified"
	case ev.SenderID != state.UserID:
		return "senderId does not match the identified user"
	case ev.Content == "" && len(ev.Attachments) == 0:
		return "message needs content or at least one attachment"
	}
	return ""
}

// notifyOffline hands the message to the notifier for every participant
// without a live connection. Best effort; the notifier logs its own failures.
func (rt *Router) notifyOffline(message models.Message) {
	if rt.notifier == nil {
		return
	}
	participants, err := rt.store.ListParticipants(message.ConversationID)
	if err != nil {
		slog.Error("failed to list participants for notification",
			"conversation_id", message.ConversationID, "error", err)
		return
	}
	for _, p := range participants {
		if p.UserID == message.SenderID {
			continue
		}
		if rt.hub.UserConnCount(p.UserID) == 0 {
			rt.notifier.NotifyNewMessage(p.UserID, message)
		}
	}
}

// handleMarkRead marks every message in the conversation not authored by the
// caller as read, in one bulk operation, then tells the rest of the room.
func (rt *Router) handleMarkRead(connID string, ev models.ClientEvent) {
	state, ok := rt.hub.State(connID)
	if !ok {
		return
	}

	if ev.ConversationID == "" || state.UserID == "" {
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: "conversationId and an identified connection are required",
		})
		return
	}

	if _, err := rt.store.MarkConversationRead(ev.ConversationID, state.UserID); err != nil {
		slog.Error("failed to mark conversation read",
			"conversation_id", ev.ConversationID, "user_id", state.UserID, "error", err)
		rt.hub.Send(connID, models.ServerEvent{
			Type:  models.ServerEventTypeError,
			Error: "failed to mark messages read",
		})
		return
	}

	rt.hub.Broadcast(ev.ConversationID, models.ServerEvent{
		Type:           models.ServerEventTypeMessagesRead,
		ConversationID: ev.ConversationID,
		ReadBy:         state.UserID,
	}, state.UserID)
}

// relayTyping is a pure relay: nothing is persisted and the sender never
// receives their own indicator back.
func (rt *Router) relayTyping(connID string, ev models.ClientEvent, eventType models.ServerEventType) {
	state, ok := rt.hub.State(connID)
	if !ok || state.UserID == "" || ev.ConversationID == "" {
		return
	}

	rt.hub.Broadcast(ev.ConversationID, models.ServerEvent{
		Type:           eventType,
		ConversationID: ev.ConversationID,
		UserID:         state.UserID,
	}, state.UserID)
}

// HandleDisconnect is invoked by the transport when a connection goes away.
// If this was the user's last live connection, their participant rows are
// flipped offline with a last-seen timestamp and every room they belonged to
// is told.
func (rt *Router) HandleDisconnect(connID string) {
	state, rooms, last := rt.hub.Remove(connID)
	if state.UserID == "" || !last {
		return
	}

	now := rt.now().Unix()
	if err := rt.store.SetUserPresence(state.UserID, false, now); err != nil {
		slog.Error("failed to set presence offline", "user_id", state.UserID, "error", err)
	}

	for _, roomID := range rooms {
		rt.hub.Broadcast(roomID, models.ServerEvent{
			Type:           models.ServerEventTypeStatusChange,
			ConversationID: roomID,
			UserID:         state.UserID,
			IsOnline:       false,
			LastSeen:       now,
		}, state.UserID)
	}
}
