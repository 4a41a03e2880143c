package models

import (
	"errors"
	"slices"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("invalid input")
	ErrEditWindowClosed   = errors.New("edit window closed")
	ErrDeleteWindowClosed = errors.New("delete window closed")
	ErrAlreadyDeleted     = errors.New("message already deleted")
)

type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// Media describes an uploaded attachment. The server only ever stores
// this descriptor; the content lives behind the URL.
type Media struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// Message represents a chat message. Timestamps are Unix milliseconds.
type Message struct {
	ID          string `json:"id"`
	ChatID      string `json:"chatId"`
	SenderID    string `json:"senderId"`
	Content     string `json:"content,omitempty"`
	Media       *Media `json:"media,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	EditedAt    int64  `json:"editedAt,omitempty"`
	DeliveredAt int64  `json:"deliveredAt,omitempty"`
	// User IDs that have marked the chat read at or after this message.
	ReadBy []string `json:"readBy,omitempty"`
	// Users who deleted this message for themselves only.
	DeletedFor []string `json:"-"`
	// Deleted marks a for-everyone (sender or moderation) delete.
	Deleted bool `json:"-"`
}

// VisibleTo reports whether the message should appear in userID's view
// of the chat history.
func (m Message) VisibleTo(userID string) bool {
	return !m.Deleted && !slices.Contains(m.DeletedFor, userID)
}

func (m Message) ReadByUser(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// LastMessage is the denormalized summary kept on a chat for list rendering.
type LastMessage struct {
	Content   string `json:"content"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// Chat is a conversation between a fixed set of participants.
type Chat struct {
	ID           string       `json:"id"`
	Kind         ChatKind     `json:"kind"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	// Unread maps participant ID to the number of messages they have
	// not marked read. Counters never go negative and are never
	// incremented for the sender.
	Unread map[string]int `json:"unread,omitempty"`
}

func (c Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Admin       bool       `json:"admin,omitempty"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

// Presence is the online status of a user. It is ephemeral and derived
// from active connections, never persisted.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}
