package client

import (
	"log/slog"
	"slices"

	"perepiska/internal/models"
)

// Apply reconciles one inbound event against local state. It is safe
// under duplicate delivery: a created event whose ID is already present
// does not duplicate the message.
func (c *Client) Apply(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case models.EventMessageCreated:
		c.applyCreated(ev)
	case models.EventMessageEdited:
		c.applyEdited(ev)
	case models.EventMessageDeleted:
		c.applyDeleted(ev)
	case models.EventChatRead:
		c.applyChatRead(ev)
	case models.EventPresence:
		c.online[ev.UserID] = ev.Online
	case models.EventTyping:
		cs := c.chat(ev.ChatID)
		if ev.Typing {
			cs.typing[ev.UserID] = true
		} else {
			delete(cs.typing, ev.UserID)
		}
	default:
		slog.Warn("unknown event kind", "kind", ev.Kind)
	}
}

func (c *Client) applyCreated(ev models.Event) {
	if ev.Message == nil {
		return
	}
	cs := c.chat(ev.Message.ChatID)
	if cs.state == StateIdle || cs.state == StateLoadingInitial {
		// History not loaded; the page fetch will include it.
		return
	}
	if cs.index(ev.Message.ID) >= 0 {
		// Duplicate delivery or our own optimistic echo.
		return
	}
	// A message from the author clears their typing indicator.
	delete(cs.typing, ev.Message.SenderID)
	cs.records = append(cs.records, Record{Message: *ev.Message, New: true})
}

func (c *Client) applyEdited(ev models.Event) {
	if ev.Message == nil {
		return
	}
	cs := c.chat(ev.Message.ChatID)
	i := cs.index(ev.Message.ID)
	if i < 0 {
		return
	}
	// Do not clobber an in-flight local edit; its response carries the
	// newer server state.
	if cs.records[i].Editing {
		return
	}
	cs.records[i].Content = ev.Message.Content
	cs.records[i].EditedAt = ev.Message.EditedAt
}

func (c *Client) applyDeleted(ev models.Event) {
	if ev.Message == nil {
		return
	}
	cs := c.chat(ev.Message.ChatID)
	if i := cs.index(ev.Message.ID); i >= 0 {
		// Removed outright, no tombstone kept.
		cs.remove(i)
	}
}

func (c *Client) applyChatRead(ev models.Event) {
	cs := c.chat(ev.ChatID)
	for i := range cs.records {
		r := &cs.records[i]
		if r.SenderID == ev.UserID {
			continue
		}
		if !slices.Contains(r.ReadBy, ev.UserID) {
			r.ReadBy = append(r.ReadBy, ev.UserID)
		}
	}
}
