package ws

import (
	"log"
	"net/http"

	"tradepost/internal/auth"
	"tradepost/internal/chat"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.AuthService
	hub      *chat.Hub
	router   *chat.Router
	upgrader *websocket.Upgrader
}

func NewServer(auth *auth.AuthService, hub *chat.Hub, router *chat.Router) *Server {
	return &Server{
		auth:   auth,
		hub:    hub,
		router: router,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin is enforced by the session token check below.
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	userID, err := s.auth.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, s.router, ws, uuid.NewString(), userID)
	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("websocket session ended: %v", err)
	}
}
