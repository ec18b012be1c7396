package push

import (
	"testing"
	"time"

	"tradepost/internal/models"
)

type mockStore struct {
	notifications []models.Notification
	subs          []models.PushSubscription
	listCalls     int
}

func (m *mockStore) UpsertNotification(n models.Notification) error {
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *mockStore) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	m.listCalls++
	return m.subs, nil
}

func (m *mockStore) DeletePushSubscription(userID, endpoint string) error {
	return nil
}

func TestNotifyNewMessage(t *testing.T) {
	store := &mockStore{}
	svc := New(store, Config{})
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	svc.NotifyNewMessage("buyer1", models.Message{
		ConversationID: "conv1",
		SenderName:     "Acme Sales",
		Content:        "Hello",
	})

	if len(store.notifications) != 1 {
		t.Fatalf("stored %d notifications, want 1", len(store.notifications))
	}
	n := store.notifications[0]
	if n.UserID != "buyer1" || n.Kind != models.NotificationKindMessage {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.ConversationID != "conv1" || n.Body != "Hello" || n.CreatedAt != 1700000000 {
		t.Errorf("unexpected notification: %+v", n)
	}

	// Without VAPID keys no push subscriptions are even looked up.
	if store.listCalls != 0 {
		t.Error("subscriptions listed with web push disabled")
	}
}

func TestNotifyNewMessageAttachmentOnly(t *testing.T) {
	store := &mockStore{}
	svc := New(store, Config{})

	svc.NotifyNewMessage("buyer1", models.Message{
		ConversationID: "conv1",
		SenderName:     "Acme Sales",
		Attachments:    []string{"file-1"},
	})

	if len(store.notifications) != 1 || store.notifications[0].Body == "" {
		t.Errorf("attachment-only message produced %+v", store.notifications)
	}
}

func TestNotifyOrder(t *testing.T) {
	store := &mockStore{}
	svc := New(store, Config{})

	svc.NotifyOrder("seller1", models.Order{ID: "order1"})

	if len(store.notifications) != 1 {
		t.Fatalf("stored %d notifications, want 1", len(store.notifications))
	}
	n := store.notifications[0]
	if n.UserID != "seller1" || n.Kind != models.NotificationKindOrder || n.OrderID != "order1" {
		t.Errorf("unexpected notification: %+v", n)
	}
}
