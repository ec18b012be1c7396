// Package seed populates a fresh database with demo marketplace data:
// a handful of buyer and seller accounts, listings, a conversation per
// buyer/seller pair and a short message history. Used by the admin API to
// bootstrap staging environments.
package seed

import (
	"fmt"
	"time"

	"tradepost/internal/auth"
	"tradepost/internal/models"
	"tradepost/internal/storage"

	"github.com/google/uuid"
)

type account struct {
	username    string
	displayName string
	company     string
	role        models.Role
}

var accounts = []account{
	{"acme-sales", "Acme Sales", "Acme Industrial", models.RoleSeller},
	{"borealis", "Borealis Trading", "Borealis Trading Oy", models.RoleSeller},
	{"nordbuild", "NordBuild Procurement", "NordBuild AB", models.RoleBuyer},
	{"citymart", "CityMart Purchasing", "CityMart GmbH", models.RoleBuyer},
}

var demoListings = []models.Listing{
	{Title: "Pallet jack, 2500 kg", Description: "Manual pallet jack.\n\n- 2500 kg capacity\n- EUR pallet size", Category: "warehouse", PriceCents: 32900, Currency: "EUR", Stock: 40},
	{Title: "Stretch wrap film, 23 µm", Description: "Machine-grade stretch film, 50 rolls per pallet.", Category: "packaging", PriceCents: 189900, Currency: "EUR", Stock: 12},
	{Title: "Steel shelving unit", Description: "Boltless shelving, 180x90x45 cm, 175 kg per shelf.", Category: "warehouse", PriceCents: 8900, Currency: "EUR", Stock: 150},
}

// Run creates the demo accounts, listings, conversations and messages.
// It is not idempotent and is intended for empty databases; existing
// usernames cause an error.
func Run(authService *auth.AuthService, store *storage.BboltStorage, password string) error {
	now := time.Now().Unix()

	users := make(map[string]models.User)
	for _, a := range accounts {
		user, err := authService.AddUser(a.username, a.displayName, a.company, password, a.role)
		if err != nil {
			return fmt.Errorf("failed to seed user %s: %w", a.username, err)
		}
		users[a.username] = user
	}

	sellers := []models.User{users["acme-sales"], users["borealis"]}
	for i, l := range demoListings {
		l.ID = uuid.NewString()
		l.SellerID = sellers[i%len(sellers)].ID
		l.Status = models.ListingStatusActive
		l.CreatedAt = now
		l.UpdatedAt = now
		if err := store.UpsertListing(l); err != nil {
			return fmt.Errorf("failed to seed listing: %w", err)
		}
	}

	// One conversation per buyer/seller pair with a short exchange.
	buyers := []models.User{users["nordbuild"], users["citymart"]}
	for _, buyer := range buyers {
		for _, seller := range sellers {
			conv := models.Conversation{
				ID:        uuid.NewString(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			participants := []models.ConversationParticipant{
				{UserID: buyer.ID, Role: models.RoleBuyer, LastSeen: now},
				{UserID: seller.ID, Role: models.RoleSeller, LastSeen: now},
			}
			if err := store.UpsertConversation(conv, participants); err != nil {
				return fmt.Errorf("failed to seed conversation: %w", err)
			}

			exchange := []models.Message{
				{SenderID: buyer.ID, SenderName: buyer.DisplayName, SenderType: models.RoleBuyer,
					Content: "Hello, is this still available in bulk?"},
				{SenderID: seller.ID, SenderName: seller.DisplayName, SenderType: models.RoleSeller,
					Content: "Yes, we can quote for pallet quantities."},
			}
			for i, m := range exchange {
				m.ID = uuid.NewString()
				m.ConversationID = conv.ID
				m.Status = models.DeliveryStatusSent
				m.CreatedAt = now - int64(len(exchange)-i)*60
				m.UpdatedAt = m.CreatedAt
				if err := store.UpsertMessage(m); err != nil {
					return fmt.Errorf("failed to seed message: %w", err)
				}
			}
		}
	}

	return nil
}
