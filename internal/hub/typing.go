package hub

import (
	"time"

	"perepiska/internal/metrics"
	"perepiska/internal/models"
)

// DefaultTypingTTL is how long a typing signal survives without a
// refresh before the hub emits typing-stopped on the user's behalf.
// Covers lost stop signals from flaky clients.
const DefaultTypingTTL = 5 * time.Second

type typingKey struct {
	chatID string
	userID string
}

// StartTyping sets or refreshes the typing signal for (chatID, userID)
// and notifies the other participants of the chat. The originator's own
// sessions never see their own typing events.
func (h *Hub) StartTyping(chatID, userID string) {
	chat, err := h.directory.GetChat(chatID)
	if err != nil || !chat.HasParticipant(userID) {
		return
	}

	key := typingKey{chatID: chatID, userID: userID}
	h.mu.Lock()
	if timer, ok := h.typing[key]; ok {
		// Superseded; stop the old timer so it cannot fire a stale stop.
		timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.typingTTL, func() {
		h.expireTyping(chatID, userID, timer)
	})
	h.typing[key] = timer
	h.mu.Unlock()

	metrics.TypingSignals.Inc()
	h.Publish(chat.Participants, models.Event{
		Kind:   models.EventTyping,
		ChatID: chatID,
		UserID: userID,
		Typing: true,
	}, userID)
}

// StopTyping clears the signal immediately on an explicit stop.
func (h *Hub) StopTyping(chatID, userID string) {
	key := typingKey{chatID: chatID, userID: userID}
	h.mu.Lock()
	timer, ok := h.typing[key]
	if ok {
		timer.Stop()
		delete(h.typing, key)
	}
	h.mu.Unlock()

	if ok {
		h.publishTyping(chatID, userID, false)
	}
}

// expireTyping fires when a signal went unrefreshed for the full TTL.
// The timer identity check keeps a stale expiry, racing with a refresh,
// from clearing the fresh signal.
func (h *Hub) expireTyping(chatID, userID string, timer *time.Timer) {
	key := typingKey{chatID: chatID, userID: userID}
	h.mu.Lock()
	ok := h.typing[key] == timer
	if ok {
		delete(h.typing, key)
	}
	h.mu.Unlock()

	if ok {
		h.publishTyping(chatID, userID, false)
	}
}

func (h *Hub) publishTyping(chatID, userID string, active bool) {
	chat, err := h.directory.GetChat(chatID)
	if err != nil {
		return
	}
	h.Publish(chat.Participants, models.Event{
		Kind:   models.EventTyping,
		ChatID: chatID,
		UserID: userID,
		Typing: active,
	}, userID)
}
