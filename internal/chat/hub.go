package chat

import (
	"sync"

	"tradepost/internal/models"
)

// sendBuffer is the per-connection outbound queue depth. Events to a full
// queue are dropped rather than blocking the broadcasting handler.
const sendBuffer = 100

// ConnState is the explicit per-connection state record: the transport
// connection ID, the user authenticated at upgrade time, and the user bound
// by identify (empty while the connection is anonymous).
type ConnState struct {
	ConnID     string
	AuthUserID string
	UserID     string
}

type connection struct {
	state ConnState
	send  chan models.ServerEvent
	rooms map[string]bool
}

// Hub is the connection registry and room membership manager. It tracks which
// connections are live, which user each identified connection belongs to, the
// set of live connection IDs per user, and the broadcast group per
// conversation. All state is in-memory and rebuilt from durable participant
// rows on every identify.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*connection
	userConns map[string]map[string]bool
	rooms     map[string]map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*connection),
		userConns: make(map[string]map[string]bool),
		rooms:     make(map[string]map[string]bool),
	}
}

// Register adds a new anonymous connection and returns its outbound event
// channel. authUserID is the identity proven at transport upgrade; identify
// must bind to the same user.
func (h *Hub) Register(connID, authUserID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &connection{
		state: ConnState{ConnID: connID, AuthUserID: authUserID},
		send:  make(chan models.ServerEvent, sendBuffer),
		rooms: make(map[string]bool),
	}
	h.conns[connID] = c
	return c.send
}

// Bind transitions a connection from anonymous to identified. The transition
// is irreversible; rebinding an identified connection is a no-op returning
// false.
func (h *Hub) Bind(connID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok || c.state.UserID != "" {
		return false
	}
	c.state.UserID = userID

	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[string]bool)
	}
	h.userConns[userID][connID] = true
	return true
}

// State returns a copy of the connection's state record.
func (h *Hub) State(connID string) (ConnState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connID]
	if !ok {
		return ConnState{}, false
	}
	return c.state, true
}

// JoinRoom subscribes the connection to a conversation's broadcast group.
func (h *Hub) JoinRoom(conversationID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return
	}
	c.rooms[conversationID] = true

	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[string]bool)
	}
	h.rooms[conversationID][connID] = true
}

// Remove drops the connection from the registry and from every room it
// joined. It returns the final connection state, the rooms it was subscribed
// to, and whether it was the user's last live connection.
func (h *Hub) Remove(connID string) (state ConnState, rooms []string, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return ConnState{}, nil, false
	}
	delete(h.conns, connID)
	close(c.send)

	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
		if members, ok := h.rooms[roomID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}

	state = c.state
	if state.UserID != "" {
		if set, ok := h.userConns[state.UserID]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.userConns, state.UserID)
				last = true
			}
		}
	}
	return state, rooms, last
}

// UserConnCount returns the number of live connections for a user. A user
// with zero connections is offline.
func (h *Hub) UserConnCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID])
}

// Broadcast sends the event to every connection in a conversation's room.
// Connections bound to excludeUserID are skipped when it is non-empty. Events
// are dropped for connections with a full send queue.
func (h *Hub) Broadcast(conversationID string, ev models.ServerEvent, excludeUserID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.rooms[conversationID] {
		c, ok := h.conns[connID]
		if !ok {
			continue
		}
		if excludeUserID != "" && c.state.UserID == excludeUserID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// Slow consumer, drop.
		}
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connID string, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case c.send <- ev:
	default:
	}
}
