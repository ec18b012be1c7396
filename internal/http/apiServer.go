package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"tradepost/internal/api"
	"tradepost/internal/auth"
	"tradepost/internal/chat"
	"tradepost/internal/filestore"
	"tradepost/internal/push"
	"tradepost/internal/storage"
	"tradepost/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, hub *chat.Hub, router *chat.Router, files filestore.FileStore, store *storage.BboltStorage, pushService *push.Service, addr string) *APIServer {
	wsServer := ws.NewServer(authService, hub, router)
	apiHandlers := api.New(authService, store, files, pushService)

	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// Listings
	mux.HandleFunc("GET /api/listings", apiHandlers.RequireAuth(apiHandlers.ListingsHandler))
	mux.HandleFunc("GET /api/listings/{id}", apiHandlers.RequireAuth(apiHandlers.ListingDetailHandler))
	mux.HandleFunc("POST /api/listings", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateListingHandler)))
	mux.HandleFunc("POST /api/listings/{id}/status", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateListingStatusHandler)))

	// Orders
	mux.HandleFunc("GET /api/orders", apiHandlers.RequireAuth(apiHandlers.OrdersHandler))
	mux.HandleFunc("POST /api/orders", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateOrderHandler)))
	mux.HandleFunc("POST /api/orders/{id}/status", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.OrderStatusHandler)))

	// Conversations and message history
	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))
	mux.HandleFunc("POST /api/conversations", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateConversationHandler)))
	mux.HandleFunc("GET /api/conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))

	// Notifications and push subscriptions
	mux.HandleFunc("GET /api/notifications", apiHandlers.RequireAuth(apiHandlers.NotificationsHandler))
	mux.HandleFunc("POST /api/notifications/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.NotificationsReadHandler)))
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// Attachments
	mux.HandleFunc("POST /api/attachments", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadAttachmentHandler)))
	mux.HandleFunc("GET /api/attachments/{id}", apiHandlers.RequireAuth(apiHandlers.GetAttachmentHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
