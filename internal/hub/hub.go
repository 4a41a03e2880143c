package hub

import (
	"log/slog"
	"sync"
	"time"

	"perepiska/internal/metrics"
	"perepiska/internal/models"
)

const sessionBuffer = 64

// ChatDirectory resolves chat membership for routing decisions.
type ChatDirectory interface {
	GetChat(id string) (models.Chat, error)
}

// Envelope wraps an event with its routing targets. The same envelope
// format travels through the relay so remote nodes can reproduce the
// local routing decision.
type Envelope struct {
	// Participants receive the event, minus Exclude.
	Participants []string `json:"participants,omitempty"`
	Exclude      []string `json:"exclude,omitempty"`
	// UserID targets a single user's sessions.
	UserID string `json:"userId,omitempty"`
	// Broadcast targets every connected session.
	Broadcast bool         `json:"broadcast,omitempty"`
	Event     models.Event `json:"event"`
}

// Relay forwards envelopes to other nodes. Optional.
type Relay interface {
	Forward(env Envelope)
}

// Session is one live connection of one user. A user may hold several
// sessions at once (multiple tabs or devices).
type Session struct {
	userID string
	ch     chan models.Event

	// guarded by Hub.mu
	focus  string
	closed bool
}

func (s *Session) UserID() string {
	return s.userID
}

// Events is the ordered stream of events for this session.
func (s *Session) Events() <-chan models.Event {
	return s.ch
}

// Hub is the explicitly constructed connection manager: it owns the
// session registry, presence state and typing signals, and fans events
// out to sessions. It carries no process-global state; everything that
// needs it receives it at construction.
type Hub struct {
	directory ChatDirectory
	typingTTL time.Duration
	relay     Relay
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	lastSeen map[string]int64
	typing   map[typingKey]*time.Timer

	// pubMu serializes fan-out so that delivery order into every
	// session channel matches publish order.
	pubMu sync.Mutex
}

func New(directory ChatDirectory) *Hub {
	return &Hub{
		directory: directory,
		typingTTL: DefaultTypingTTL,
		now:       time.Now,
		sessions:  make(map[string]map[*Session]struct{}),
		lastSeen:  make(map[string]int64),
		typing:    make(map[typingKey]*time.Timer),
	}
}

// SetRelay attaches a cross-node relay. Must be called before any
// session connects.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// Attach registers a new session for the user. The first session of a
// user flips their presence to online and notifies all peers.
func (h *Hub) Attach(userID string) *Session {
	sess := &Session{
		userID: userID,
		ch:     make(chan models.Event, sessionBuffer),
	}

	h.mu.Lock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][sess] = struct{}{}
	first := len(h.sessions[userID]) == 1
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	if first {
		h.Broadcast(models.Event{
			Kind:   models.EventPresence,
			UserID: userID,
			Online: true,
		})
	}
	return sess
}

// Detach removes a session. Safe to call more than once. The last
// session of a user flips their presence to offline, notifies peers
// and clears any typing signals the user left behind.
func (h *Hub) Detach(sess *Session) {
	// pubMu excludes an in-flight fan-out: Deliver sends on session
	// channels while holding it, so the channel never closes between
	// its target snapshot and the send.
	h.pubMu.Lock()
	h.mu.Lock()
	if sess.closed {
		h.mu.Unlock()
		h.pubMu.Unlock()
		return
	}
	sess.closed = true
	delete(h.sessions[sess.userID], sess)
	last := len(h.sessions[sess.userID]) == 0
	if last {
		delete(h.sessions, sess.userID)
		h.lastSeen[sess.userID] = h.now().Unix()
	}
	close(sess.ch)

	var abandoned []typingKey
	if last {
		for key, timer := range h.typing {
			if key.userID == sess.userID {
				timer.Stop()
				delete(h.typing, key)
				abandoned = append(abandoned, key)
			}
		}
	}
	h.mu.Unlock()
	h.pubMu.Unlock()

	metrics.WSConnections.Dec()
	for _, key := range abandoned {
		h.publishTyping(key.chatID, key.userID, false)
	}
	if last {
		h.Broadcast(models.Event{
			Kind:   models.EventPresence,
			UserID: sess.userID,
			Online: false,
		})
	}
}

// SetFocus records which chat the session currently has open; an empty
// chatID clears it. Unread counters skip messages for chats a user is
// focused on.
func (h *Hub) SetFocus(sess *Session, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess.focus = chatID
}

// Viewing reports whether any of the user's sessions has the chat open.
func (h *Hub) Viewing(userID, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sess := range h.sessions[userID] {
		if sess.focus == chatID {
			return true
		}
	}
	return false
}

// Online reports whether the user has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// Presence returns the derived presence record for a user.
func (h *Hub) Presence(userID string) models.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sessions[userID]) > 0 {
		return models.Presence{Online: true, LastSeen: h.now().Unix()}
	}
	return models.Presence{LastSeen: h.lastSeen[userID]}
}

// Publish fans the event out to all sessions of the given participants,
// skipping the excluded user IDs, and forwards it to the relay.
func (h *Hub) Publish(participants []string, ev models.Event, exclude ...string) {
	h.dispatch(Envelope{Participants: participants, Exclude: exclude, Event: ev})
}

// PublishTo delivers the event to all sessions of a single user.
func (h *Hub) PublishTo(userID string, ev models.Event) {
	h.dispatch(Envelope{UserID: userID, Event: ev})
}

// Broadcast delivers the event to every connected session.
func (h *Hub) Broadcast(ev models.Event) {
	h.dispatch(Envelope{Broadcast: true, Event: ev})
}

func (h *Hub) dispatch(env Envelope) {
	h.Deliver(env)
	if h.relay != nil {
		h.relay.Forward(env)
	}
}

// Deliver performs local-only fan-out. The relay calls this for
// envelopes arriving from other nodes.
func (h *Hub) Deliver(env Envelope) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	excluded := make(map[string]bool, len(env.Exclude))
	for _, id := range env.Exclude {
		excluded[id] = true
	}

	h.mu.RLock()
	var targets []*Session
	switch {
	case env.Broadcast:
		for _, sessions := range h.sessions {
			for sess := range sessions {
				targets = append(targets, sess)
			}
		}
	case env.UserID != "":
		for sess := range h.sessions[env.UserID] {
			targets = append(targets, sess)
		}
	default:
		for _, p := range env.Participants {
			if excluded[p] {
				continue
			}
			for sess := range h.sessions[p] {
				targets = append(targets, sess)
			}
		}
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		select {
		case sess.ch <- env.Event:
		default:
			// Slow consumer; the channel buffer is full. Drop rather
			// than block the fan-out. Delivery is best-effort.
			slog.Warn("dropping event for slow session", "user_id", sess.userID, "kind", env.Event.Kind)
		}
	}
}
