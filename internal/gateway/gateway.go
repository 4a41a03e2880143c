package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perepiska/internal/content"
	"perepiska/internal/metrics"
	"perepiska/internal/models"

	"github.com/google/uuid"
)

const (
	// DefaultEditWindow bounds how long after creation a sender may
	// still edit or delete their message.
	DefaultEditWindow   = 15 * time.Minute
	DefaultDeleteWindow = 15 * time.Minute
	DefaultPageSize     = 50
)

// Store is the slice of the persistence layer the gateway needs.
type Store interface {
	GetChat(id string) (models.Chat, error)
	ListChats(userID string) ([]models.Chat, error)
	InsertMessage(message models.Message, skipUnread []string) error
	GetMessage(id string) (models.Message, error)
	UpdateMessage(id string, fn func(*models.Message) error) (models.Message, error)
	ListMessages(chatID, viewerID string, offset, limit int) ([]models.Message, error)
	ResetUnread(chatID, userID string) error
}

// Broadcaster fans events out to chat participants and answers
// connection-state questions.
type Broadcaster interface {
	Publish(participants []string, ev models.Event, exclude ...string)
	PublishTo(userID string, ev models.Event)
	Viewing(userID, chatID string) bool
	Online(userID string) bool
}

// Notifier reaches participants with no live session. Best-effort.
type Notifier interface {
	MessageCreated(ctx context.Context, userIDs []string, chat models.Chat, message models.Message)
}

// Admins answers whether a user is an administrative actor.
type Admins interface {
	IsAdmin(userID string) bool
}

type Config struct {
	EditWindow   time.Duration
	DeleteWindow time.Duration
	PageSize     int
}

func (c *Config) applyDefaults() {
	if c.EditWindow == 0 {
		c.EditWindow = DefaultEditWindow
	}
	if c.DeleteWindow == 0 {
		c.DeleteWindow = DefaultDeleteWindow
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
}

// Gateway validates, persists and broadcasts message mutations. It is
// the single authority on authorship and time-window rules; clients may
// mirror the rules for UI affordance but are never trusted.
type Gateway struct {
	cfg      Config
	store    Store
	bcast    Broadcaster
	notifier Notifier
	admins   Admins
	now      func() time.Time
}

func New(cfg Config, store Store, bcast Broadcaster, notifier Notifier, admins Admins) *Gateway {
	cfg.applyDefaults()
	return &Gateway{
		cfg:      cfg,
		store:    store,
		bcast:    bcast,
		notifier: notifier,
		admins:   admins,
		now:      time.Now,
	}
}

type SendRequest struct {
	ChatID   string
	SenderID string
	Content  string
	Media    *models.Media
}

// Send persists a new message, updates the chat summary and unread
// counters, and publishes a message-created event to all participants.
func (g *Gateway) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	trimmed := strings.TrimSpace(req.Content)
	if trimmed == "" && req.Media == nil {
		return models.Message{}, fmt.Errorf("%w: message requires content or media", models.ErrValidation)
	}

	chat, err := g.store.GetChat(req.ChatID)
	if err != nil {
		return models.Message{}, fmt.Errorf("chat %s: %w", req.ChatID, models.ErrNotFound)
	}
	if !chat.HasParticipant(req.SenderID) {
		return models.Message{}, fmt.Errorf("%w: sender is not a participant", models.ErrForbidden)
	}

	now := g.now().UnixMilli()
	message := models.Message{
		ID:          uuid.NewString(),
		ChatID:      req.ChatID,
		SenderID:    req.SenderID,
		Content:     content.Sanitize(trimmed),
		Media:       req.Media,
		CreatedAt:   now,
		DeliveredAt: now,
	}

	// Participants currently looking at the chat do not accumulate
	// unread counts for it.
	var viewing []string
	var offline []string
	for _, p := range chat.Participants {
		if p == req.SenderID {
			continue
		}
		if g.bcast.Viewing(p, req.ChatID) {
			viewing = append(viewing, p)
		}
		if !g.bcast.Online(p) {
			offline = append(offline, p)
		}
	}

	if err := g.store.InsertMessage(message, viewing); err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	metrics.MessagesSent.Inc()
	g.bcast.Publish(chat.Participants, models.Event{
		Kind:    models.EventMessageCreated,
		ChatID:  req.ChatID,
		Message: &message,
	})
	if g.notifier != nil && len(offline) > 0 {
		g.notifier.MessageCreated(ctx, offline, chat, message)
	}

	return message, nil
}

// Edit replaces the content of the editor's own message within the edit
// window. A non-empty chatID must match the chat the message belongs
// to. Editing with unchanged content (after trimming) is a no-op:
// nothing is written and no event is published.
func (g *Gateway) Edit(ctx context.Context, chatID, messageID, editorID, newContent string) (models.Message, error) {
	message, err := g.store.GetMessage(messageID)
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if message.Deleted || (chatID != "" && message.ChatID != chatID) {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if message.SenderID != editorID {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit", models.ErrForbidden)
	}
	if g.now().UnixMilli()-message.CreatedAt >= g.cfg.EditWindow.Milliseconds() {
		return models.Message{}, models.ErrEditWindowClosed
	}

	trimmed := strings.TrimSpace(newContent)
	if trimmed == "" {
		return models.Message{}, fmt.Errorf("%w: edited content is empty", models.ErrValidation)
	}
	// The stored content went through sanitization at send time, so the
	// no-op comparison has to as well or resubmitting the original raw
	// text of a sanitized message would register as a change.
	sanitized := content.Sanitize(trimmed)
	if strings.TrimSpace(sanitized) == strings.TrimSpace(message.Content) {
		return message, nil
	}

	editedAt := g.now().UnixMilli()
	updated, err := g.store.UpdateMessage(messageID, func(m *models.Message) error {
		// The message may have been deleted between our read and this
		// write; the delete wins and the edit becomes a no-op that
		// clients observe as a deletion.
		if m.Deleted {
			return models.ErrNotFound
		}
		m.Content = sanitized
		m.EditedAt = editedAt
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}

	chat, err := g.store.GetChat(updated.ChatID)
	if err != nil {
		return models.Message{}, err
	}

	metrics.MessagesEdited.Inc()
	g.bcast.Publish(chat.Participants, models.Event{
		Kind:    models.EventMessageEdited,
		ChatID:  updated.ChatID,
		Message: &updated,
	})

	return updated, nil
}

// Delete soft-deletes a message. A non-empty chatID must match the
// chat the message belongs to; moderation addresses messages by bare
// ID. forAll removes the message for every participant and requires
// the sender or an administrative actor; otherwise the message is
// hidden only for the requester. The deletion window applies to
// everyone but administrators.
func (g *Gateway) Delete(ctx context.Context, chatID, messageID, requesterID string, forAll bool) error {
	message, err := g.store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if chatID != "" && message.ChatID != chatID {
		return fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if message.Deleted {
		return models.ErrAlreadyDeleted
	}

	chat, err := g.store.GetChat(message.ChatID)
	if err != nil {
		return err
	}
	admin := g.admins != nil && g.admins.IsAdmin(requesterID)
	if !chat.HasParticipant(requesterID) && !admin {
		return fmt.Errorf("%w: requester is not a participant", models.ErrForbidden)
	}
	if forAll && message.SenderID != requesterID && !admin {
		return fmt.Errorf("%w: only the sender or an administrator may delete for everyone", models.ErrForbidden)
	}
	if !admin && g.now().UnixMilli()-message.CreatedAt >= g.cfg.DeleteWindow.Milliseconds() {
		return models.ErrDeleteWindowClosed
	}

	deleted, err := g.store.UpdateMessage(messageID, func(m *models.Message) error {
		if m.Deleted {
			return models.ErrAlreadyDeleted
		}
		if forAll {
			m.Deleted = true
			return nil
		}
		for _, id := range m.DeletedFor {
			if id == requesterID {
				return models.ErrAlreadyDeleted
			}
		}
		m.DeletedFor = append(m.DeletedFor, requesterID)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.MessagesDeleted.Inc()
	ev := models.Event{
		Kind:    models.EventMessageDeleted,
		ChatID:  deleted.ChatID,
		Message: &deleted,
	}
	if forAll {
		g.bcast.Publish(chat.Participants, ev)
	} else {
		// A for-me delete is only visible to the requester's own sessions.
		g.bcast.PublishTo(requesterID, ev)
	}
	return nil
}

// MarkRead zeroes the participant's unread counter for the chat and
// notifies the other participants so they can render read receipts.
func (g *Gateway) MarkRead(ctx context.Context, chatID, userID string) error {
	chat, err := g.store.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a participant", models.ErrForbidden)
	}
	if err := g.store.ResetUnread(chatID, userID); err != nil {
		return err
	}
	g.bcast.Publish(chat.Participants, models.Event{
		Kind:   models.EventChatRead,
		ChatID: chatID,
		UserID: userID,
	})
	return nil
}

// HistoryPage is one newest-first page of chat history. ChatID is
// echoed so clients can discard pages that arrive after a chat switch.
type HistoryPage struct {
	ChatID   string           `json:"chatId"`
	Messages []models.Message `json:"messages"`
	// More reports whether an older page is known to exist, using the
	// full-page heuristic.
	More bool `json:"more"`
}

// History returns a newest-first page of messages visible to userID.
func (g *Gateway) History(ctx context.Context, chatID, userID string, offset, limit int) (HistoryPage, error) {
	chat, err := g.store.GetChat(chatID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
	}
	if !chat.HasParticipant(userID) {
		return HistoryPage{}, fmt.Errorf("%w: not a participant", models.ErrForbidden)
	}
	if limit <= 0 || limit > g.cfg.PageSize {
		limit = g.cfg.PageSize
	}
	if offset < 0 {
		offset = 0
	}
	messages, err := g.store.ListMessages(chatID, userID, offset, limit)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{
		ChatID:   chatID,
		Messages: messages,
		More:     len(messages) == limit,
	}, nil
}

// Chats lists the user's chats with unread counters and last-message
// summaries for list rendering.
func (g *Gateway) Chats(ctx context.Context, userID string) ([]models.Chat, error) {
	return g.store.ListChats(userID)
}

// PageSize is the fixed history page size clients should request.
func (g *Gateway) PageSize() int {
	return g.cfg.PageSize
}
