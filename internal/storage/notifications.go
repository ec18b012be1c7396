package storage

import (
	"fmt"

	"tradepost/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertNotification stores a notification in the user's sub-bucket.
func (s *BboltStorage) UpsertNotification(n models.Notification) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(n.UserID))
		if err != nil {
			return fmt.Errorf("failed to create notification bucket: %w", err)
		}

		dbNotif := DBNotification{
			ID:             n.ID,
			UserID:         n.UserID,
			Kind:           string(n.Kind),
			Title:          n.Title,
			Body:           n.Body,
			ConversationID: n.ConversationID,
			OrderID:        n.OrderID,
			Read:           n.Read,
			CreatedAt:      n.CreatedAt,
		}
		data, err := dbNotif.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbNotif.Key(), data)
	})
}

// ListNotifications returns the user's notifications, newest first.
func (s *BboltStorage) ListNotifications(userID string, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}

		c := userBucket.Cursor()
		for k, v := c.Last(); k != nil && len(notifications) < limit; k, v = c.Prev() {
			var dbNotif DBNotification
			if err := dbNotif.UnmarshalBinary(v); err != nil {
				return err
			}
			notifications = append(notifications, models.Notification{
				ID:             dbNotif.ID,
				UserID:         dbNotif.UserID,
				Kind:           models.NotificationKind(dbNotif.Kind),
				Title:          dbNotif.Title,
				Body:           dbNotif.Body,
				ConversationID: dbNotif.ConversationID,
				OrderID:        dbNotif.OrderID,
				Read:           dbNotif.Read,
				CreatedAt:      dbNotif.CreatedAt,
			})
		}
		return nil
	})
	return notifications, err
}

// MarkNotificationsRead flags all of the user's notifications as read.
func (s *BboltStorage) MarkNotificationsRead(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}

		// Collect first, write after: mutating the bucket invalidates a
		// cursor mid-iteration.
		updates := make(map[string][]byte)
		c := userBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbNotif DBNotification
			if err := dbNotif.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbNotif.Read {
				continue
			}
			dbNotif.Read = true
			data, err := dbNotif.MarshalBinary()
			if err != nil {
				return err
			}
			updates[string(k)] = data
		}
		for k, data := range updates {
			if err := userBucket.Put([]byte(k), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertPushSubscription stores a web push subscription keyed by endpoint.
func (s *BboltStorage) UpsertPushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return fmt.Errorf("failed to create push subscription bucket: %w", err)
		}

		dbSub := DBPushSubscription{
			UserID:    sub.UserID,
			Endpoint:  sub.Endpoint,
			P256dh:    sub.P256dh,
			Auth:      sub.Auth,
			CreatedAt: sub.CreatedAt,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

// ListPushSubscriptions returns all push subscriptions of a user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:    dbSub.UserID,
				Endpoint:  dbSub.Endpoint,
				P256dh:    dbSub.P256dh,
				Auth:      dbSub.Auth,
				CreatedAt: dbSub.CreatedAt,
			})
			return nil
		})
	})
	return subs, err
}

// DeletePushSubscription removes a subscription, e.g. after the push service
// reports it gone.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}
