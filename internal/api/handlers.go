package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"tradepost/internal/auth"
	"tradepost/internal/content"
	"tradepost/internal/filestore"
	"tradepost/internal/listings"
	"tradepost/internal/models"
	"tradepost/internal/push"
	"tradepost/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxUploadSize = 10 << 20 // 10 MiB

type API struct {
	auth  *auth.AuthService
	store *storage.BboltStorage
	files filestore.FileStore
	push  *push.Service
}

func New(auth *auth.AuthService, store *storage.BboltStorage, files filestore.FileStore, push *push.Service) *API {
	return &API{auth: auth, store: store, files: files, push: push}
}

type contextKey string

const userIDKey contextKey = "userID"

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth resolves the session token and stores the user ID in the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	loginResp := a.auth.Login(req)
	if !loginResp.Success {
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(requestUserID(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListingsHandler serves the seller-listing query: scan-time conditions from
// query parameters plus in-memory post-filters.
func (a *API) ListingsHandler(w http.ResponseWriter, r *http.Request) {
	q := listings.Query{
		SellerID: r.URL.Query().Get("seller"),
		Status:   models.ListingStatus(r.URL.Query().Get("status")),
		Category: r.URL.Query().Get("category"),
	}
	q.MinPriceCents, _ = strconv.ParseInt(r.URL.Query().Get("minPrice"), 10, 64)
	q.MaxPriceCents, _ = strconv.ParseInt(r.URL.Query().Get("maxPrice"), 10, 64)

	filters := listings.PostFilters{
		Search:     r.URL.Query().Get("q"),
		SortBy:     r.URL.Query().Get("sort"),
		Descending: r.URL.Query().Get("desc") == "true",
	}
	filters.MinStock, _ = strconv.Atoi(r.URL.Query().Get("minStock"))
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := a.store.ListListingsWhere(q.Predicate())
	if err != nil {
		log.Printf("failed to query listings: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, filters.Apply(items))
}

// ListingDetailHandler returns one listing with its description rendered
// from markdown to sanitized HTML.
func (a *API) ListingDetailHandler(w http.ResponseWriter, r *http.Request) {
	listing, err := a.store.GetListing(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Listing not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	html, err := content.RenderMarkdown(listing.Description)
	if err != nil {
		log.Printf("failed to render listing %s: %v", listing.ID, err)
		html = content.Escape(listing.Description)
	}

	writeJSON(w, http.StatusOK, struct {
		models.Listing
		DescriptionHTML string `json:"descriptionHtml"`
	}{Listing: listing, DescriptionHTML: html})
}

type createListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
	Stock       int    `json:"stock"`
}

func (a *API) CreateListingHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(requestUserID(r))
	if err != nil || user.Role != models.RoleSeller {
		http.Error(w, "Only sellers can create listings", http.StatusForbidden)
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.PriceCents <= 0 {
		http.Error(w, "title and a positive priceCents are required", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}

	now := time.Now().Unix()
	listing := models.Listing{
		ID:          uuid.NewString(),
		SellerID:    user.ID,
		Title:       content.Sanitize(req.Title),
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		Stock:       req.Stock,
		Status:      models.ListingStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.UpsertListing(listing); err != nil {
		log.Printf("failed to create listing: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

func (a *API) UpdateListingStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.ListingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case models.ListingStatusActive, models.ListingStatusPaused, models.ListingStatusArchived:
	default:
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	listing, err := a.store.GetListing(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Listing not found", http.StatusNotFound)
		return
	}
	if listing.SellerID != requestUserID(r) {
		http.Error(w, "Not your listing", http.StatusForbidden)
		return
	}

	listing.Status = req.Status
	listing.UpdatedAt = time.Now().Unix()
	if err := a.store.UpsertListing(listing); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type createOrderRequest struct {
	ListingID string `json:"listingId"`
	Quantity  int    `json:"quantity"`
}

func (a *API) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ListingID == "" || req.Quantity <= 0 {
		http.Error(w, "listingId and a positive quantity are required", http.StatusBadRequest)
		return
	}

	now := time.Now().Unix()
	order, err := a.store.CreateOrder(models.Order{
		ID:        uuid.NewString(),
		ListingID: req.ListingID,
		BuyerID:   requestUserID(r),
		Quantity:  req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			http.Error(w, "Listing not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrListingUnavailable),
			errors.Is(err, storage.ErrInsufficientStock):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Printf("failed to create order: %v", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}

	if a.push != nil {
		a.push.NotifyOrder(order.SellerID, order)
	}

	writeJSON(w, http.StatusOK, order)
}

func (a *API) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := a.store.ListOrdersByUser(requestUserID(r))
	if err != nil {
		log.Printf("failed to list orders: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *API) OrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := a.store.GetOrder(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	userID := requestUserID(r)
	if order.BuyerID != userID && order.SellerID != userID {
		http.Error(w, "Not your order", http.StatusForbidden)
		return
	}

	updated, err := a.store.UpdateOrderStatus(order.ID, req.Status)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type conversationSummary struct {
	models.Conversation
	Participants []models.ConversationParticipant `json:"participants"`
}

// ConversationsHandler lists the caller's conversations with participant
// presence, most recently updated first is left to the client.
func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	memberships, err := a.store.ListParticipantsByUser(userID)
	if err != nil {
		log.Printf("failed to list conversations for %s: %v", userID, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	result := make([]conversationSummary, 0, len(memberships))
	for _, m := range memberships {
		conv, err := a.store.GetConversation(m.ConversationID)
		if err != nil {
			continue
		}
		participants, err := a.store.ListParticipants(m.ConversationID)
		if err != nil {
			continue
		}
		result = append(result, conversationSummary{Conversation: conv, Participants: participants})
	}

	writeJSON(w, http.StatusOK, result)
}

type createConversationRequest struct {
	ListingID string `json:"listingId"`
}

// CreateConversationHandler opens a buyer/seller thread about a listing.
// Note: connections identified before this call do not join the new room
// until they reconnect; room membership is an identify-time snapshot.
func (a *API) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	listing, err := a.store.GetListing(req.ListingID)
	if err != nil {
		http.Error(w, "Listing not found", http.StatusNotFound)
		return
	}

	buyerID := requestUserID(r)
	if buyerID == listing.SellerID {
		http.Error(w, "Cannot open a conversation with yourself", http.StatusBadRequest)
		return
	}

	now := time.Now().Unix()
	conv := models.Conversation{
		ID:        uuid.NewString(),
		ListingID: listing.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := []models.ConversationParticipant{
		{UserID: buyerID, Role: models.RoleBuyer, LastSeen: now},
		{UserID: listing.SellerID, Role: models.RoleSeller, LastSeen: now},
	}
	if err := a.store.UpsertConversation(conv, participants); err != nil {
		log.Printf("failed to create conversation: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// MessagesHandler backfills recent message history for one conversation.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	userID := requestUserID(r)

	participants, err := a.store.ListParticipants(conversationID)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	isMember := false
	for _, p := range participants {
		if p.UserID == userID {
			isMember = true
			break
		}
	}
	if !isMember {
		http.Error(w, "Not a participant", http.StatusForbidden)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	messages, err := a.store.ListRecentMessages(conversationID, limit)
	if err != nil {
		log.Printf("failed to list messages for %s: %v", conversationID, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.store.ListNotifications(requestUserID(r), 100)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (a *API) NotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.store.MarkNotificationsRead(requestUserID(r)); err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		http.Error(w, "endpoint and keys are required", http.StatusBadRequest)
		return
	}

	err := a.store.UpsertPushSubscription(models.PushSubscription{
		UserID:    requestUserID(r),
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// UploadAttachmentHandler stores an attachment blob content-addressed by its
// SHA-256 and returns the file ID to reference from a message.
func (a *API) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	kind, _ := filetype.Match(data)
	mimeType := kind.MIME.Value
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		log.Printf("failed to save attachment: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  mimeType,
		Name:      header.Filename,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    requestUserID(r),
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		log.Printf("failed to save attachment metadata: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		FileID   string `json:"fileId"`
		MimeType string `json:"mimeType"`
	}{FileID: meta.ID, MimeType: meta.MimeType})
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", meta.Name))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream attachment %s: %v", meta.ID, err)
	}
}
