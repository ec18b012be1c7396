package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"tradepost/internal/auth"
	"tradepost/internal/content"
	"tradepost/internal/models"
	"tradepost/internal/seed"
	"tradepost/internal/storage"
)

// AdminHandler serves the operator endpoints. The admin server binds to a
// separate (typically loopback) address, so these carry no session auth.
type AdminHandler struct {
	authService *auth.AuthService
	store       *storage.BboltStorage
}

func NewAdminHandler(authService *auth.AuthService, store *storage.BboltStorage) *AdminHandler {
	return &AdminHandler{authService: authService, store: store}
}

type AddUserRequest struct {
	Username    string      `json:"username"`
	DisplayName string      `json:"displayName,omitempty"`
	Company     string      `json:"company,omitempty"`
	Role        models.Role `json:"role"`
	Password    string      `json:"password"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "Password is required", http.StatusBadRequest)
		return
	}
	switch req.Role {
	case models.RoleBuyer, models.RoleSeller, models.RoleAdmin:
	default:
		http.Error(w, "Role must be buyer, seller or admin", http.StatusBadRequest)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	user, err := h.authService.AddUser(req.Username, displayName, req.Company, req.Password, req.Role)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
	})
}

type SeedRequest struct {
	Password string `json:"password"`
}

// SeedHandler populates demo data. Intended for empty staging databases.
func (h *AdminHandler) SeedHandler(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "Password for the demo accounts is required", http.StatusBadRequest)
		return
	}

	if err := seed.Run(h.authService, h.store, req.Password); err != nil {
		log.Printf("seeding failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Message: fmt.Sprintf("Seeding failed: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Demo data created"})
}

// StatsHandler returns the analytics summary: entity counts, messages per
// day and top sellers by order volume.
func (h *AdminHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 14
	}
	topN, _ := strconv.Atoi(r.URL.Query().Get("top"))
	if topN <= 0 {
		topN = 5
	}

	stats, err := h.store.GetStats(days, topN)
	if err != nil {
		log.Printf("failed to compute stats: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
