package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"perepiska/internal/hub"
	"perepiska/internal/models"

	"github.com/gorilla/websocket"
)

const (
	// Heartbeat contract: ping every pingPeriod, declare the peer dead
	// if no pong arrives within pongWait.
	pingPeriod   = 25 * time.Second
	pongWait     = 60 * time.Second
	writeTimeout = 10 * time.Second
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

type messageHub interface {
	Detach(sess *hub.Session)
	SetFocus(sess *hub.Session, chatID string)
	StartTyping(chatID, userID string)
	StopTyping(chatID, userID string)
}

// Connection couples one websocket to one hub session: it pumps client
// signals (typing, focus) into the hub and hub events out to the wire.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	sess       *hub.Session
	fromClient chan models.ClientMessage
	errorCh    chan error
}

func NewConnection(h messageHub, ws wsConnection, sess *hub.Session) *Connection {
	return &Connection{
		ws:         ws,
		hub:        h,
		sess:       sess,
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Detach(c.sess)
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err == nil {
		// The context won the race; the failing pump's error is queued.
		select {
		case err = <-c.errorCh:
		default:
		}
	}

	if parent.Err() != nil {
		// Orderly shutdown; read errors from closing the socket are
		// expected, not failures.
		return nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(msg)
		case ev, ok := <-c.sess.Events():
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientMessageTypeTypingStart:
		c.hub.StartTyping(msg.ChatID, c.sess.UserID())
	case models.ClientMessageTypeTypingStop:
		c.hub.StopTyping(msg.ChatID, c.sess.UserID())
	case models.ClientMessageTypeFocus:
		c.hub.SetFocus(c.sess, msg.ChatID)
	}
}
