package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketChats    = []byte("chats")
	bucketMessages = []byte("messages")
	bucketMsgIndex = []byte("message_index")
	bucketPushSubs = []byte("push_subscriptions")
	bucketFiles    = []byte("files")
	allBuckets     = [][]byte{bucketUsers, bucketChats, bucketMessages, bucketMsgIndex, bucketPushSubs, bucketFiles}
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
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
			PasswordHash: credentials.PasswordHash,
			Admin:        credentials.Admin,
			LastSeen:     credentials.Presence.LastSeen,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all active user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if models.UserStatus(dbUser.Status) != models.UserStatusActive {
				return nil
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					Admin:       dbUser.Admin,
					Presence: models.Presence{
						LastSeen: dbUser.LastSeen,
					},
					Status: models.UserStatus(dbUser.Status),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// CreateChat saves a new chat. The participant set is fixed at creation.
func (s *BboltStorage) CreateChat(chat models.Chat) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		if b.Get([]byte(chat.ID)) != nil {
			return fmt.Errorf("chat %s already exists", chat.ID)
		}
		dbChat := chatToDB(chat)
		data, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbChat.Key(), data)
	})
}

// GetChat returns a single chat by ID.
func (s *BboltStorage) GetChat(id string) (models.Chat, error) {
	var chat models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(data); err != nil {
			return err
		}
		chat = chatFromDB(dbChat)
		return nil
	})
	return chat, err
}

// ListChats returns all chats the user participates in.
func (s *BboltStorage) ListChats(userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChats)
		return b.ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := dbChat.UnmarshalBinary(v); err != nil {
				return err
			}
			chat := chatFromDB(dbChat)
			if chat.HasParticipant(userID) {
				chats = append(chats, chat)
			}
			return nil
		})
	})
	return chats, err
}

// InsertMessage saves a message and, in the same transaction, updates
// the chat's last-message summary and increments unread counters for
// every participant except the sender and those listed in skipUnread
// (participants currently viewing the chat).
func (s *BboltStorage) InsertMessage(message models.Message, skipUnread []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.ChatID == "" {
			return errors.New("message missing chatID")
		}

		chatBucketStats := tx.Bucket(bucketChats)
		chatKey := []byte(message.ChatID)
		chatData := chatBucketStats.Get(chatKey)
		if chatData == nil {
			return models.ErrNotFound
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(chatData); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}

		// 1. Save message
		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(chatKey)
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		dbMessage := messageToDB(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		// 2. Index message ID -> location
		ref := DBMessageRef{ChatID: message.ChatID, MsgKey: dbMessage.Key()}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMsgIndex).Put([]byte(message.ID), refData); err != nil {
			return err
		}

		// 3. Update chat summary and unread counters
		dbChat.LastContent = message.Content
		dbChat.LastSenderID = message.SenderID
		dbChat.LastTimestamp = message.CreatedAt
		if dbChat.Unread == nil {
			dbChat.Unread = make(map[string]int)
		}
		skip := make(map[string]bool, len(skipUnread)+1)
		skip[message.SenderID] = true
		for _, id := range skipUnread {
			skip[id] = true
		}
		for _, p := range dbChat.Participants {
			if !skip[p] {
				dbChat.Unread[p]++
			}
		}

		newData, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		return chatBucketStats.Put(chatKey, newData)
	})
}

// GetMessage looks a message up by ID through the index bucket.
func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var message models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getDBMessage(tx, id)
		if err != nil {
			return err
		}
		message = messageFromDB(*dbMsg)
		return nil
	})
	return message, err
}

// UpdateMessage applies fn to the stored message in a single write
// transaction. Concurrent updates to the same message serialize on
// bbolt's writer lock, so the last write wins.
func (s *BboltStorage) UpdateMessage(id string, fn func(*models.Message) error) (models.Message, error) {
	var updated models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getDBMessage(tx, id)
		if err != nil {
			return err
		}
		message := messageFromDB(*dbMsg)
		if err := fn(&message); err != nil {
			return err
		}
		next := messageToDB(message)
		data, err := next.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).Bucket([]byte(message.ChatID)).Put(next.Key(), data); err != nil {
			return err
		}
		updated = message
		return nil
	})
	return updated, err
}

// ListMessages returns up to limit messages of the chat visible to
// viewerID, newest first, skipping offset visible messages.
func (s *BboltStorage) ListMessages(chatID, viewerID string, offset, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}

		skipped := 0
		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := messageFromDB(dbMsg)
			if !msg.VisibleTo(viewerID) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			messages = append(messages, msg)
		}
		return nil
	})
	return messages, err
}

// ResetUnread zeroes userID's unread counter for the chat and stamps the
// user's read marker on messages from the newest backwards, stopping at
// the first message they had already read.
func (s *BboltStorage) ResetUnread(chatID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chatKey := []byte(chatID)
		chatsBucket := tx.Bucket(bucketChats)
		chatData := chatsBucket.Get(chatKey)
		if chatData == nil {
			return models.ErrNotFound
		}
		var dbChat DBChat
		if err := dbChat.UnmarshalBinary(chatData); err != nil {
			return err
		}
		if dbChat.Unread != nil {
			dbChat.Unread[userID] = 0
		}
		newData, err := dbChat.MarshalBinary()
		if err != nil {
			return err
		}
		if err := chatsBucket.Put(chatKey, newData); err != nil {
			return err
		}

		chatBucket := tx.Bucket(bucketMessages).Bucket(chatKey)
		if chatBucket == nil {
			return nil
		}
		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msg := messageFromDB(dbMsg)
			if msg.SenderID == userID || msg.ReadByUser(userID) {
				break
			}
			msg.ReadBy = append(msg.ReadBy, userID)
			next := messageToDB(msg)
			data, err := next.MarshalBinary()
			if err != nil {
				return err
			}
			if err := chatBucket.Put(next.Key(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func getDBMessage(tx *bbolt.Tx, id string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMsgIndex).Get([]byte(id))
	if refData == nil {
		return nil, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}
	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
	if chatBucket == nil {
		return nil, models.ErrNotFound
	}
	data := chatBucket.Get(ref.MsgKey)
	if data == nil {
		return nil, models.ErrNotFound
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

// UpsertPushSubscription stores a web-push subscription for the user.
func (s *BboltStorage) UpsertPushSubscription(sub DBPushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := sub.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushSubs).Put(sub.Key(), data)
	})
}

// ListPushSubscriptions returns all stored subscriptions for the user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]DBPushSubscription, error) {
	var subs []DBPushSubscription
	prefix := []byte(userID + "\x00")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPushSubs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sub DBPushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		return nil
	})
	return subs, err
}

// DeletePushSubscription removes a dead or unsubscribed endpoint.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sub := DBPushSubscription{UserID: userID, Endpoint: endpoint}
		return tx.Bucket(bucketPushSubs).Delete(sub.Key())
	})
}

func chatToDB(chat models.Chat) DBChat {
	dbChat := DBChat{
		ID:           chat.ID,
		Kind:         string(chat.Kind),
		Participants: chat.Participants,
		Unread:       chat.Unread,
	}
	if chat.LastMessage != nil {
		dbChat.LastContent = chat.LastMessage.Content
		dbChat.LastSenderID = chat.LastMessage.SenderID
		dbChat.LastTimestamp = chat.LastMessage.Timestamp
	}
	return dbChat
}

func chatFromDB(dbChat DBChat) models.Chat {
	chat := models.Chat{
		ID:           dbChat.ID,
		Kind:         models.ChatKind(dbChat.Kind),
		Participants: dbChat.Participants,
		Unread:       dbChat.Unread,
	}
	if dbChat.LastTimestamp != 0 {
		chat.LastMessage = &models.LastMessage{
			Content:   dbChat.LastContent,
			SenderID:  dbChat.LastSenderID,
			Timestamp: dbChat.LastTimestamp,
		}
	}
	return chat
}

func messageToDB(message models.Message) DBMessage {
	dbMessage := DBMessage{
		ID:          message.ID,
		ChatID:      message.ChatID,
		SenderID:    message.SenderID,
		Content:     message.Content,
		CreatedAt:   message.CreatedAt,
		EditedAt:    message.EditedAt,
		DeliveredAt: message.DeliveredAt,
		ReadBy:      message.ReadBy,
		DeletedFor:  message.DeletedFor,
		Deleted:     message.Deleted,
	}
	if message.Media != nil {
		dbMessage.MediaKind = string(message.Media.Kind)
		dbMessage.MediaURL = message.Media.URL
	}
	return dbMessage
}

func messageFromDB(dbMsg DBMessage) models.Message {
	msg := models.Message{
		ID:          dbMsg.ID,
		ChatID:      dbMsg.ChatID,
		SenderID:    dbMsg.SenderID,
		Content:     dbMsg.Content,
		CreatedAt:   dbMsg.CreatedAt,
		EditedAt:    dbMsg.EditedAt,
		DeliveredAt: dbMsg.DeliveredAt,
		ReadBy:      dbMsg.ReadBy,
		DeletedFor:  dbMsg.DeletedFor,
		Deleted:     dbMsg.Deleted,
	}
	if dbMsg.MediaKind != "" {
		msg.Media = &models.Media{
			Kind: models.MediaKind(dbMsg.MediaKind),
			URL:  dbMsg.MediaURL,
		}
	}
	return msg
}
