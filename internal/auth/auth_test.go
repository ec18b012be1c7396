package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"tradepost/internal/models"
)

// memStore is an in-memory auth.Store for tests.
type memStore struct {
	credentials map[string]UserCredentials
	tokens      map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		credentials: make(map[string]UserCredentials),
		tokens:      make(map[string]string),
	}
}

func (m *memStore) UpsertCredentials(credentials UserCredentials) error {
	m.credentials[credentials.UserName] = credentials
	return nil
}

func (m *memStore) ListCredentials() ([]UserCredentials, error) {
	var out []UserCredentials
	for _, c := range m.credentials {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) UpsertToken(userID, tokenHash string) error {
	m.tokens[tokenHash] = userID
	return nil
}

func (m *memStore) DeleteToken(tokenHash string) error {
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memStore) ListTokens() (map[string]string, error) {
	out := make(map[string]string, len(m.tokens))
	for k, v := range m.tokens {
		out[k] = v
	}
	return out, nil
}

func TestAuthService(t *testing.T) {
	const t0Unix = 1700000000

	createService := func(t *testing.T, store Store) (*AuthService, *time.Time) {
		t.Helper()
		cfg := Config{
			Secret:      base64.StdEncoding.EncodeToString([]byte("server-secret")),
			TokenExpiry: time.Hour,
		}

		svc, err := NewAuthService(context.Background(), cfg, store)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}
		return svc, &currentTime
	}

	t.Run("AddUser", func(t *testing.T) {
		store := newMemStore()
		svc, _ := createService(t, store)

		u1, err := svc.AddUser("acme", "Acme Sales", "Acme Industrial", "pass1", models.RoleSeller)
		if err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
		if u1.UserName != "acme" || u1.Role != models.RoleSeller || u1.ID == "" {
			t.Errorf("unexpected user: %+v", u1)
		}

		if _, err := svc.AddUser("acme", "Other", "", "pass2", models.RoleBuyer); !errors.Is(err, ErrUserExists) {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}

		// Persisted, with a bcrypt hash rather than the raw password.
		stored := store.credentials["acme"]
		if stored.PasswordHash == "" || stored.PasswordHash == "pass1" {
			t.Errorf("password stored badly: %q", stored.PasswordHash)
		}
	})

	t.Run("Login_Success", func(t *testing.T) {
		svc, _ := createService(t, newMemStore())
		user, err := svc.AddUser("buyer1", "Buyer One", "", "pass1", models.RoleBuyer)
		if err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}

		resp := svc.Login(LoginRequest{Username: "buyer1", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Login failed: %s", resp.Message)
		}
		if resp.UserID != user.ID || resp.Role != models.RoleBuyer {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.TokenExpiry != t0Unix+3600 {
			t.Errorf("TokenExpiry = %d", resp.TokenExpiry)
		}

		userID, err := svc.GetUserID(resp.Token)
		if err != nil || userID != user.ID {
			t.Errorf("GetUserID = %q, %v", userID, err)
		}
	})

	t.Run("Login_Failures", func(t *testing.T) {
		svc, _ := createService(t, newMemStore())
		if _, err := svc.AddUser("buyer1", "Buyer One", "", "pass1", models.RoleBuyer); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			req  LoginRequest
		}{
			{"Wrong Password", LoginRequest{Username: "buyer1", Password: "wrongpass"}},
			{"User Not Found", LoginRequest{Username: "unknown", Password: "pass1"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp := svc.Login(tt.req)
				if resp.Success {
					t.Error("Expected login failure")
				}
				if resp.Message != loginFailedMessage {
					t.Errorf("Expected message %q, got %q", loginFailedMessage, resp.Message)
				}
			})
		}
	})

	t.Run("Security_Throttling", func(t *testing.T) {
		svc, now := createService(t, newMemStore())
		if _, err := svc.AddUser("buyer1", "Buyer One", "", "pass1", models.RoleBuyer); err != nil {
			t.Fatal(err)
		}

		// Fail 4 times (threshold is > 3)
		for i := 0; i < 4; i++ {
			svc.Login(LoginRequest{Username: "buyer1", Password: "wrongpass"})
		}

		resp := svc.Login(LoginRequest{Username: "buyer1", Password: "pass1"})
		if resp.Success {
			t.Error("Throttling failed, login succeeded")
		}
		if resp.Message == loginFailedMessage {
			t.Errorf("Expected throttling message, got %q", resp.Message)
		}

		// Backoff = 30 * failedAttempts^2 = 480s for 4 failures.
		*now = now.Add(500 * time.Second)
		resp = svc.Login(LoginRequest{Username: "buyer1", Password: "pass1"})
		if !resp.Success {
			t.Errorf("Login after backoff failed: %s", resp.Message)
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		store := newMemStore()
		svc, _ := createService(t, store)
		if _, err := svc.AddUser("buyer1", "Buyer One", "", "pass1", models.RoleBuyer); err != nil {
			t.Fatal(err)
		}

		resp := svc.Login(LoginRequest{Username: "buyer1", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Login failed")
		}
		if len(store.tokens) != 1 {
			t.Errorf("token not persisted")
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Errorf("Logoff failed: %v", err)
		}
		if _, err := svc.GetUserID(resp.Token); err == nil {
			t.Error("Token should be invalid after logoff")
		}
		if len(store.tokens) != 0 {
			t.Error("persisted token not deleted")
		}
	})

	t.Run("RestartRestoresSessions", func(t *testing.T) {
		store := newMemStore()
		svc, _ := createService(t, store)
		user, err := svc.AddUser("buyer1", "Buyer One", "", "pass1", models.RoleBuyer)
		if err != nil {
			t.Fatal(err)
		}
		resp := svc.Login(LoginRequest{Username: "buyer1", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Login failed")
		}

		// A fresh service over the same store accepts the old token and
		// knows the user.
		svc2, _ := createService(t, store)
		userID, err := svc2.GetUserID(resp.Token)
		if err != nil || userID != user.ID {
			t.Errorf("session not restored: %q, %v", userID, err)
		}
		got, err := svc2.GetUser(user.ID)
		if err != nil || got.UserName != "buyer1" {
			t.Errorf("user not restored: %+v, %v", got, err)
		}
	})

	t.Run("GetUsersAndIsAdmin", func(t *testing.T) {
		svc, _ := createService(t, newMemStore())
		admin, err := svc.AddUser("root", "Root", "", "pass", models.RoleAdmin)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.AddUser("buyer1", "Buyer One", "", "pass", models.RoleBuyer); err != nil {
			t.Fatal(err)
		}

		if len(svc.GetUsers()) != 2 {
			t.Errorf("GetUsers returned %d users", len(svc.GetUsers()))
		}
		if !svc.IsAdmin(admin.ID) {
			t.Error("admin not recognized")
		}
		if svc.IsAdmin("nobody") {
			t.Error("unknown user reported as admin")
		}
	})
}
