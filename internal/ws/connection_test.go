package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"perepiska/internal/hub"
	"perepiska/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockWS) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (m *mockWS) SetReadDeadline(t time.Time) error { return nil }

func (m *mockWS) SetPongHandler(h func(string) error) {}

type memDirectory map[string]models.Chat

func (d memDirectory) GetChat(id string) (models.Chat, error) {
	chat, ok := d[id]
	if !ok {
		return models.Chat{}, models.ErrNotFound
	}
	return chat, nil
}

// recordingHub wraps a real hub and records the signal calls the
// connection forwards.
type recordingHub struct {
	*hub.Hub
	focusCh chan string
	startCh chan string
	stopCh  chan string
}

func newRecordingHub() *recordingHub {
	dir := memDirectory{"chat1": {ID: "chat1", Participants: []string{"user1", "user2"}}}
	return &recordingHub{
		Hub:     hub.New(dir),
		focusCh: make(chan string, 10),
		startCh: make(chan string, 10),
		stopCh:  make(chan string, 10),
	}
}

func (m *recordingHub) SetFocus(sess *hub.Session, chatID string) {
	m.focusCh <- chatID
	m.Hub.SetFocus(sess, chatID)
}

func (m *recordingHub) StartTyping(chatID, userID string) {
	m.startCh <- chatID
	m.Hub.StartTyping(chatID, userID)
}

func (m *recordingHub) StopTyping(chatID, userID string) {
	m.stopCh <- chatID
	m.Hub.StopTyping(chatID, userID)
}

func TestConnection_Lifecycle(t *testing.T) {
	h := newRecordingHub()
	ws := newMockWS()

	sess := h.Attach("user1")
	conn := NewConnection(h, ws, sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client signals reach the hub.
	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeTypingStart, ChatID: "chat1"}
	select {
	case chatID := <-h.startCh:
		if chatID != "chat1" {
			t.Errorf("expected typing-start for chat1, got %s", chatID)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive typing-start")
	}

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeFocus, ChatID: "chat1"}
	select {
	case chatID := <-h.focusCh:
		if chatID != "chat1" {
			t.Errorf("expected focus on chat1, got %s", chatID)
		}
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive focus")
	}
	if !h.Viewing("user1", "chat1") {
		t.Error("expected user1 viewing chat1 after focus")
	}

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeTypingStop, ChatID: "chat1"}
	select {
	case <-h.stopCh:
	case <-time.After(1 * time.Second):
		t.Error("hub did not receive typing-stop")
	}

	// 2. Hub events reach the wire.
	h.PublishTo("user1", models.Event{
		Kind:    models.EventMessageCreated,
		ChatID:  "chat1",
		Message: &models.Message{ID: "m1", Content: "hi back"},
	})
	select {
	case received := <-ws.writeCh:
		ev, ok := received.(models.Event)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if ev.Message == nil || ev.Message.Content != "hi back" {
			t.Errorf("WS received wrong event: %+v", ev)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive event")
	}

	// 3. Stop.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	if h.Online("user1") {
		t.Error("expected session detached after Handle returns")
	}
	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	h := newRecordingHub()
	ws := newMockWS()

	sess := h.Attach("user2")
	conn := NewConnection(h, ws, sess)

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
	if h.Online("user2") {
		t.Error("expected session detached on error")
	}
}
