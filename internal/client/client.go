// Package client keeps a local, optimistically-updated view of the
// user's chats in sync with the server. It is the state machine behind
// a chat UI: it owns per-chat loading states, history pagination,
// optimistic mutations with rollback, and reconciliation of inbound
// events against local state. Rendering is out of scope; the package
// exposes snapshots and pure helpers the UI layer polls.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perepiska/internal/gateway"
	"perepiska/internal/models"
)

// State is the per-chat loading state.
type State string

const (
	StateIdle           State = "idle"
	StateLoadingInitial State = "loading-initial"
	StateLoaded         State = "loaded"
	StateLoadingMore    State = "loading-more"
)

const (
	// EditWindow mirrors the server's edit window for UI affordance
	// only. The server independently re-checks.
	EditWindow = 15 * time.Minute

	// NearBottomPx is the distance from the bottom of the viewport
	// under which incoming messages auto-scroll the view.
	NearBottomPx = 150

	// NearTopPx is the distance from the top of the viewport under
	// which older history is fetched.
	NearTopPx = 100
)

// Server is the slice of the backend the client talks to. The
// authenticated user is implicit in the connection.
type Server interface {
	History(ctx context.Context, chatID string, offset, limit int) (gateway.HistoryPage, error)
	Send(ctx context.Context, chatID, content string, media *models.Media) (models.Message, error)
	Edit(ctx context.Context, chatID, messageID, newContent string) (models.Message, error)
	Delete(ctx context.Context, chatID, messageID string, forAll bool) error
}

// Record is a message plus transient presentation flags. The flags
// never reach the server; Base strips them before any comparison with
// server-sourced records.
type Record struct {
	models.Message

	// Pending marks an optimistic send awaiting confirmation.
	Pending bool
	// New drives the entry animation; cleared by the UI after a delay.
	New bool
	// Deleting drives the fade-out while a delete is in flight.
	Deleting bool
	// Editing marks the record as showing an inline edit form.
	Editing bool
}

// Base returns the underlying message with all overlay flags stripped.
func (r Record) Base() models.Message {
	return r.Message
}

type chatState struct {
	id      string
	state   State
	records []Record
	// offset is the storage offset of the oldest loaded page.
	offset int
	more   bool
	// fetching suppresses concurrent load-more requests.
	fetching bool
	typing   map[string]bool
}

// Client is the synchronization client for one user session.
type Client struct {
	server   Server
	userID   string
	pageSize int
	now      func() time.Time

	mu      sync.Mutex
	current string
	chats   map[string]*chatState
	online  map[string]bool
}

func New(server Server, userID string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = gateway.DefaultPageSize
	}
	return &Client{
		server:   server,
		userID:   userID,
		pageSize: pageSize,
		now:      time.Now,
		chats:    make(map[string]*chatState),
		online:   make(map[string]bool),
	}
}

func (c *Client) chat(chatID string) *chatState {
	cs, ok := c.chats[chatID]
	if !ok {
		cs = &chatState{id: chatID, state: StateIdle, typing: make(map[string]bool)}
		c.chats[chatID] = cs
	}
	return cs
}

// ChatState returns the loading state for a chat.
func (c *Client) ChatState(chatID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat(chatID).state
}

// Current returns the currently-selected chat ID.
func (c *Client) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Messages returns a snapshot of the loaded records for a chat, in
// chronological order.
func (c *Client) Messages(chatID string) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.chat(chatID)
	out := make([]Record, len(cs.records))
	copy(out, cs.records)
	return out
}

// HasMore reports whether older history is known to exist for a chat.
func (c *Client) HasMore(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat(chatID).more
}

// Select switches the client to chatID and loads the most recent page.
// A late response for a chat that is no longer selected is discarded.
func (c *Client) Select(ctx context.Context, chatID string) error {
	c.mu.Lock()
	c.current = chatID
	cs := c.chat(chatID)
	if cs.state != StateIdle {
		// Already loaded (or loading); keep what we have.
		c.mu.Unlock()
		return nil
	}
	cs.state = StateLoadingInitial
	c.mu.Unlock()

	page, err := c.server.History(ctx, chatID, 0, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	cs = c.chat(chatID)
	if err != nil {
		cs.state = StateIdle
		return fmt.Errorf("load chat %s: %w", chatID, err)
	}
	if c.current != chatID || page.ChatID != chatID {
		// Stale response, the user has moved on.
		cs.state = StateIdle
		return nil
	}

	cs.records = recordsFromPage(page.Messages)
	cs.offset = len(page.Messages)
	cs.more = page.More
	cs.state = StateLoaded
	return nil
}

// LoadMore prepends the next (older) page of history. It is a no-op
// unless the chat is loaded, more history exists, and no fetch is
// already in flight.
func (c *Client) LoadMore(ctx context.Context, chatID string) error {
	c.mu.Lock()
	cs := c.chat(chatID)
	if cs.state != StateLoaded || !cs.more || cs.fetching {
		c.mu.Unlock()
		return nil
	}
	cs.fetching = true
	cs.state = StateLoadingMore
	offset := cs.offset
	c.mu.Unlock()

	page, err := c.server.History(ctx, chatID, offset, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	cs = c.chat(chatID)
	cs.fetching = false
	cs.state = StateLoaded
	if err != nil {
		return fmt.Errorf("load more for chat %s: %w", chatID, err)
	}
	if page.ChatID != chatID {
		return nil
	}

	cs.records = append(recordsFromPage(page.Messages), cs.records...)
	cs.offset += len(page.Messages)
	cs.more = page.More
	return nil
}

// recordsFromPage converts a newest-first storage page into
// chronological records.
func recordsFromPage(messages []models.Message) []Record {
	records := make([]Record, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		records = append(records, Record{Message: messages[i]})
	}
	return records
}

// CanEdit reports whether the edit action should be offered for a
// message. This mirrors the server rule for UI affordance only.
func (c *Client) CanEdit(m models.Message) bool {
	if m.SenderID != c.userID {
		return false
	}
	created := time.UnixMilli(m.CreatedAt)
	return c.now().Sub(created) < EditWindow
}

// ClearNew drops the entry-animation flag, called by the UI once the
// animation has run.
func (c *Client) ClearNew(chatID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.chat(chatID)
	if i := cs.index(messageID); i >= 0 {
		cs.records[i].New = false
	}
}

// Typing returns the IDs of users currently typing in a chat.
func (c *Client) Typing(chatID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.chat(chatID)
	var users []string
	for id, active := range cs.typing {
		if active {
			users = append(users, id)
		}
	}
	return users
}

// Online reports the last known presence of a user.
func (c *Client) Online(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

func (cs *chatState) index(messageID string) int {
	for i := range cs.records {
		if cs.records[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (cs *chatState) remove(i int) {
	cs.records = append(cs.records[:i], cs.records[i+1:]...)
}

// newTempID fabricates an identifier for an optimistic record. The
// prefix keeps it from ever colliding with a server-issued UUID.
func newTempID() string {
	return "tmp-" + uuid.NewString()
}
