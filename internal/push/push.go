// Package push delivers notifications to users with no live chat connection:
// a stored notification row plus a best-effort web push to every registered
// browser subscription.
package push

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"tradepost/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
)

// Store is the persistence surface the push service needs.
type Store interface {
	UpsertNotification(n models.Notification) error
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Config struct {
	// VAPID key pair; generate with the vapid command. When empty, web push
	// is disabled and only stored notifications are written.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (mailto: or URL) sent to push services.
	Subscriber string
	TTL        int
}

type Service struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func New(store Store, cfg Config) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = 3600
	}
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// NotifyNewMessage records a message notification for an offline user and
// pushes it to their devices.
func (s *Service) NotifyNewMessage(userID string, message models.Message) {
	body := message.Content
	if body == "" {
		body = "Sent an attachment"
	}
	s.deliver(models.Notification{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           models.NotificationKindMessage,
		Title:          "New message from " + message.SenderName,
		Body:           body,
		ConversationID: message.ConversationID,
		CreatedAt:      s.now().Unix(),
	})
}

// NotifyOrder records an order notification for the seller.
func (s *Service) NotifyOrder(sellerID string, order models.Order) {
	s.deliver(models.Notification{
		ID:        uuid.NewString(),
		UserID:    sellerID,
		Kind:      models.NotificationKindOrder,
		Title:     "New order received",
		Body:      "A buyer placed an order on one of your listings",
		OrderID:   order.ID,
		CreatedAt: s.now().Unix(),
	})
}

func (s *Service) deliver(n models.Notification) {
	if err := s.store.UpsertNotification(n); err != nil {
		slog.Error("failed to store notification", "user_id", n.UserID, "error", err)
		return
	}

	if s.cfg.VAPIDPublicKey == "" || s.cfg.VAPIDPrivateKey == "" {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	subs, err := s.store.ListPushSubscriptions(n.UserID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", n.UserID, "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.cfg.Subscriber,
			VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
			TTL:             s.cfg.TTL,
		})
		if err != nil {
			slog.Error("web push failed", "user_id", n.UserID, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// The push service no longer knows this endpoint, prune it.
			if err := s.store.DeletePushSubscription(sub.UserID, sub.Endpoint); err != nil {
				slog.Error("failed to prune push subscription", "user_id", n.UserID, "error", err)
			}
		}
		_ = resp.Body.Close()
	}
}
