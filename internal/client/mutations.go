package client

import (
	"context"

	"perepiska/internal/models"
)

// MutationKind tags an optimistic mutation.
type MutationKind string

const (
	MutationSend   MutationKind = "send"
	MutationEdit   MutationKind = "edit"
	MutationDelete MutationKind = "delete"
)

// MutationState is the lifecycle of an optimistic mutation. Every
// mutation starts pending and ends either committed or rolled back;
// there is no other terminal state.
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled-back"
)

// Mutation records one optimistic change and its outcome. The UI uses
// Err for its toast; tests use State to verify the rollback path.
type Mutation struct {
	Kind      MutationKind
	State     MutationState
	ChatID    string
	MessageID string
	Err       error
}

func (m *Mutation) commit() {
	m.State = MutationCommitted
}

func (m *Mutation) rollback(err error) {
	m.State = MutationRolledBack
	m.Err = err
}

// Send appends an optimistic placeholder record and issues the send.
// On success the placeholder is replaced by the server message; on
// failure it is removed.
func (c *Client) Send(ctx context.Context, chatID, content string, media *models.Media) *Mutation {
	tempID := newTempID()
	mut := &Mutation{Kind: MutationSend, State: MutationPending, ChatID: chatID, MessageID: tempID}

	c.mu.Lock()
	cs := c.chat(chatID)
	cs.records = append(cs.records, Record{
		Message: models.Message{
			ID:        tempID,
			ChatID:    chatID,
			SenderID:  c.userID,
			Content:   content,
			Media:     media,
			CreatedAt: c.now().UnixMilli(),
		},
		Pending: true,
		New:     true,
	})
	c.mu.Unlock()

	message, err := c.server.Send(ctx, chatID, content, media)

	c.mu.Lock()
	defer c.mu.Unlock()
	cs = c.chat(chatID)
	i := cs.index(tempID)
	if err != nil {
		if i >= 0 {
			cs.remove(i)
		}
		mut.rollback(err)
		return mut
	}

	if i >= 0 {
		cs.records[i] = Record{Message: message, New: true}
	} else if cs.index(message.ID) < 0 {
		// The placeholder is gone (chat reloaded underneath us) and the
		// broadcast echo has not landed either.
		cs.records = append(cs.records, Record{Message: message, New: true})
	}
	mut.MessageID = message.ID
	mut.commit()
	return mut
}

// Edit applies new content immediately and issues the edit. On failure
// the pre-edit server value is restored.
func (c *Client) Edit(ctx context.Context, chatID, messageID, newContent string) *Mutation {
	mut := &Mutation{Kind: MutationEdit, State: MutationPending, ChatID: chatID, MessageID: messageID}

	c.mu.Lock()
	cs := c.chat(chatID)
	i := cs.index(messageID)
	if i < 0 {
		c.mu.Unlock()
		mut.rollback(models.ErrNotFound)
		return mut
	}
	prev := cs.records[i].Message
	cs.records[i].Content = newContent
	cs.records[i].Editing = true
	c.mu.Unlock()

	message, err := c.server.Edit(ctx, chatID, messageID, newContent)

	c.mu.Lock()
	defer c.mu.Unlock()
	cs = c.chat(chatID)
	i = cs.index(messageID)
	if err != nil {
		if i >= 0 {
			cs.records[i].Message = prev
			cs.records[i].Editing = false
		}
		mut.rollback(err)
		return mut
	}

	if i >= 0 {
		cs.records[i].Message = message
		cs.records[i].Editing = false
	}
	mut.commit()
	return mut
}

// Delete flags the record as being deleted and issues the delete. The
// record is removed only after server confirmation; on failure the flag
// is cleared and the record stays visible.
func (c *Client) Delete(ctx context.Context, chatID, messageID string, forAll bool) *Mutation {
	mut := &Mutation{Kind: MutationDelete, State: MutationPending, ChatID: chatID, MessageID: messageID}

	c.mu.Lock()
	cs := c.chat(chatID)
	i := cs.index(messageID)
	if i < 0 {
		c.mu.Unlock()
		mut.rollback(models.ErrNotFound)
		return mut
	}
	cs.records[i].Deleting = true
	c.mu.Unlock()

	err := c.server.Delete(ctx, chatID, messageID, forAll)

	c.mu.Lock()
	defer c.mu.Unlock()
	cs = c.chat(chatID)
	i = cs.index(messageID)
	if err != nil {
		if i >= 0 {
			cs.records[i].Deleting = false
		}
		mut.rollback(err)
		return mut
	}

	if i >= 0 {
		cs.remove(i)
	}
	mut.commit()
	return mut
}
