package models

// EventKind tags an Event delivered over the session channel. Every
// subscriber is expected to switch exhaustively on it.
type EventKind string

const (
	EventMessageCreated EventKind = "message-created"
	EventMessageEdited  EventKind = "message-edited"
	EventMessageDeleted EventKind = "message-deleted"
	EventChatRead       EventKind = "chat-read"
	EventPresence       EventKind = "presence"
	EventTyping         EventKind = "typing"
)

// Event is the single wire type for everything the server pushes to a
// session: message lifecycle, read markers, presence and typing.
type Event struct {
	Kind   EventKind `json:"kind"`
	ChatID string    `json:"chatId,omitempty"`
	// UserID is the acting user for presence, typing and chat-read events.
	UserID  string   `json:"userId,omitempty"`
	Online  bool     `json:"online,omitempty"`
	Typing  bool     `json:"typing,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// ClientMessageType enumerates messages a client sends over the socket.
// Mutations (send, edit, delete, mark-read) go over the REST API; the
// socket only carries ephemeral signals.
type ClientMessageType string

const (
	ClientMessageTypeTypingStart ClientMessageType = "typing-start"
	ClientMessageTypeTypingStop  ClientMessageType = "typing-stop"
	// Focus tells the server which chat the client currently has open,
	// so unread counters skip messages the user is already looking at.
	// An empty ChatID clears the focus.
	ClientMessageTypeFocus ClientMessageType = "focus"
)

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	ChatID string            `json:"chatId,omitempty"`
}
