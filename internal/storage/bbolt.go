package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"tradepost/internal/auth"
	"tradepost/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketTokens            = []byte("tokens")
	bucketConversations     = []byte("conversations")
	bucketParticipants      = []byte("participants")
	bucketUserConversations = []byte("user_conversations")
	bucketMessages          = []byte("messages")
	bucketListings          = []byte("listings")
	bucketOrders            = []byte("orders")
	bucketNotifications     = []byte("notifications")
	bucketPushSubs          = []byte("push_subscriptions")
	bucketFiles             = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	buckets := [][]byte{
		bucketUsers,
		bucketTokens,
		bucketConversations,
		bucketParticipants,
		bucketUserConversations,
		bucketMessages,
		bucketListings,
		bucketOrders,
		bucketNotifications,
		bucketPushSubs,
		bucketFiles,
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			Company:      credentials.Company,
			Role:         string(credentials.Role),
			LastSeen:     credentials.Presence.LastSeen,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func credentialsFromDBUser(dbUser DBUser) auth.UserCredentials {
	return auth.UserCredentials{
		User: models.User{
			ID:          dbUser.ID,
			UserName:    dbUser.UserName,
			DisplayName: dbUser.DisplayName,
			Company:     dbUser.Company,
			Role:        models.Role(dbUser.Role),
			Presence: models.Presence{
				LastSeen: dbUser.LastSeen,
			},
			Status: models.UserStatus(dbUser.Status),
		},
		PasswordHash: dbUser.PasswordHash,
	}
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, credentialsFromDBUser(dbUser))
			return nil
		})
	})
	return credentials, err
}

// GetUser returns the user with the given ID.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = credentialsFromDBUser(dbUser).User
		return nil
	})
	return user, err
}

func (s *BboltStorage) UpsertToken(userID string, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			UserID: userID,
			Token:  tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

// ListTokens returns a tokenHash -> userID map of all stored session tokens.
func (s *BboltStorage) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

// UpsertConversation saves a conversation and its participant rows, updating
// the per-user conversation index used by the chat layer on identify.
func (s *BboltStorage) UpsertConversation(conv models.Conversation, participants []models.ConversationParticipant) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if conv.ID == "" {
			return errors.New("conversation missing ID")
		}

		dbConv := DBConversation{
			ID:        conv.ID,
			ListingID: conv.ListingID,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketConversations).Put(dbConv.Key(), data); err != nil {
			return err
		}

		for _, p := range participants {
			p.ConversationID = conv.ID
			if err := putParticipant(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func putParticipant(tx *bbolt.Tx, p models.ConversationParticipant) error {
	convBucket, err := tx.Bucket(bucketParticipants).CreateBucketIfNotExists([]byte(p.ConversationID))
	if err != nil {
		return fmt.Errorf("failed to create participant bucket: %w", err)
	}

	dbPart := DBParticipant{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		Role:           string(p.Role),
		Online:         p.Online,
		LastSeen:       p.LastSeen,
	}
	data, err := dbPart.MarshalBinary()
	if err != nil {
		return err
	}
	if err := convBucket.Put(dbPart.Key(), data); err != nil {
		return err
	}

	userBucket, err := tx.Bucket(bucketUserConversations).CreateBucketIfNotExists([]byte(p.UserID))
	if err != nil {
		return fmt.Errorf("failed to create user conversation index: %w", err)
	}
	return userBucket.Put([]byte(p.ConversationID), []byte(p.ConversationID))
}

// GetConversation returns the conversation with the given ID.
func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = models.Conversation{
			ID:        dbConv.ID,
			ListingID: dbConv.ListingID,
			CreatedAt: dbConv.CreatedAt,
			UpdatedAt: dbConv.UpdatedAt,
		}
		return nil
	})
	return conv, err
}

func participantFromDB(dbPart DBParticipant) models.ConversationParticipant {
	return models.ConversationParticipant{
		ConversationID: dbPart.ConversationID,
		UserID:         dbPart.UserID,
		Role:           models.Role(dbPart.Role),
		Online:         dbPart.Online,
		LastSeen:       dbPart.LastSeen,
	}
}

// ListParticipants returns all participant rows of a conversation.
func (s *BboltStorage) ListParticipants(conversationID string) ([]models.ConversationParticipant, error) {
	var participants []models.ConversationParticipant
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketParticipants).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}
		return convBucket.ForEach(func(k, v []byte) error {
			var dbPart DBParticipant
			if err := dbPart.UnmarshalBinary(v); err != nil {
				return err
			}
			participants = append(participants, participantFromDB(dbPart))
			return nil
		})
	})
	return participants, err
}

// ListParticipantsByUser returns the user's participant row for every
// conversation they are a member of. This is the identify-time snapshot the
// room membership manager subscribes from.
func (s *BboltStorage) ListParticipantsByUser(userID string) ([]models.ConversationParticipant, error) {
	var participants []models.ConversationParticipant
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			convBucket := tx.Bucket(bucketParticipants).Bucket(k)
			if convBucket == nil {
				return nil
			}
			data := convBucket.Get([]byte(userID))
			if data == nil {
				return nil
			}
			var dbPart DBParticipant
			if err := dbPart.UnmarshalBinary(data); err != nil {
				return err
			}
			participants = append(participants, participantFromDB(dbPart))
			return nil
		})
	})
	return participants, err
}

// SetUserPresence updates the online flag and last-seen timestamp on every
// participant row of the user, in a single transaction.
func (s *BboltStorage) SetUserPresence(userID string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			convBucket := tx.Bucket(bucketParticipants).Bucket(k)
			if convBucket == nil {
				return nil
			}
			data := convBucket.Get([]byte(userID))
			if data == nil {
				return nil
			}
			var dbPart DBParticipant
			if err := dbPart.UnmarshalBinary(data); err != nil {
				return err
			}
			dbPart.Online = online
			dbPart.LastSeen = lastSeen
			updated, err := dbPart.MarshalBinary()
			if err != nil {
				return err
			}
			return convBucket.Put([]byte(userID), updated)
		})
	})
}

// UpsertMessage saves a chat message and bumps the owning conversation's
// UpdatedAt timestamp in the same transaction.
func (s *BboltStorage) UpsertMessage(message models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ConversationID == "" {
			return errors.New("message missing conversationID")
		}

		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:             message.ID,
			ConversationID: message.ConversationID,
			SenderID:       message.SenderID,
			SenderName:     message.SenderName,
			SenderType:     string(message.SenderType),
			Content:        message.Content,
			Attachments:    message.Attachments,
			IsRead:         message.IsRead,
			CreatedAt:      message.CreatedAt,
			UpdatedAt:      message.UpdatedAt,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		// Bump conversation UpdatedAt.
		convsBucket := tx.Bucket(bucketConversations)
		convKey := []byte(message.ConversationID)
		convData := convsBucket.Get(convKey)
		if convData == nil {
			return fmt.Errorf("conversation %s not found for message upsert", message.ConversationID)
		}

		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(convData); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}

		if message.CreatedAt > dbConv.UpdatedAt {
			dbConv.UpdatedAt = message.CreatedAt
			newData, err := dbConv.MarshalBinary()
			if err != nil {
				return err
			}
			if err := convsBucket.Put(convKey, newData); err != nil {
				return err
			}
		}

		return nil
	})
}

func messageFromDB(dbMsg DBMessage) models.Message {
	return models.Message{
		ID:             dbMsg.ID,
		ConversationID: dbMsg.ConversationID,
		SenderID:       dbMsg.SenderID,
		SenderName:     dbMsg.SenderName,
		SenderType:     models.Role(dbMsg.SenderType),
		Content:        dbMsg.Content,
		Attachments:    dbMsg.Attachments,
		IsRead:         dbMsg.IsRead,
		Status:         models.DeliveryStatusSent,
		CreatedAt:      dbMsg.CreatedAt,
		UpdatedAt:      dbMsg.UpdatedAt,
	}
}

// ListMessages returns conversation messages with CreatedAt in [from, to]
// (Unix seconds), oldest first.
func (s *BboltStorage) ListMessages(conversationID string, from, to int64) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil // No messages for this conversation
		}

		c := convBucket.Cursor()

		minKey := make([]byte, 8)
		binary.BigEndian.PutUint64(minKey, uint64(from))

		maxKey := make([]byte, 8)
		binary.BigEndian.PutUint64(maxKey, uint64(to+1))

		for k, v := c.Seek(minKey); k != nil && bytes.Compare(k[:8], maxKey) < 0; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	return messages, err
}

// ListRecentMessages returns up to limit most recent messages, oldest first.
func (s *BboltStorage) ListRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}

		c := convBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest-first order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead marks every message in the conversation that was not
// authored by readerID as read, in one transaction. It returns the number of
// rows that actually changed, which makes the operation's idempotency
// observable to callers and tests.
func (s *BboltStorage) MarkConversationRead(conversationID, readerID string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convBucket == nil {
			return nil
		}

		// Collect first, write after: mutating the bucket invalidates a
		// cursor mid-iteration.
		now := time.Now().Unix()
		updates := make(map[string][]byte)
		c := convBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.IsRead || dbMsg.SenderID == readerID {
				continue
			}
			dbMsg.IsRead = true
			dbMsg.UpdatedAt = now
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			updates[string(k)] = data
		}
		for k, data := range updates {
			if err := convBucket.Put([]byte(k), data); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	return changed, err
}
