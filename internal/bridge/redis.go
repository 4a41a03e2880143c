package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"perepiska/internal/hub"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channel = "perepiska:events"

// envelope adds the originating node ID so a node can skip its own
// publications when they come back around.
type envelope struct {
	Origin string `json:"origin"`
	hub.Envelope
}

// RedisBridge relays hub envelopes between nodes over a single redis
// pub/sub channel. One subscriber goroutine re-injects remote events,
// which preserves per-chat ordering on the receiving side.
type RedisBridge struct {
	rdb *redis.Client
	id  string
}

func New(addr string) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &RedisBridge{
		rdb: rdb,
		id:  uuid.NewString(),
	}, nil
}

// Forward publishes a local envelope for other nodes. Implements
// hub.Relay. Best-effort: a failed publish only degrades cross-node
// delivery, local sessions already got the event.
func (b *RedisBridge) Forward(env hub.Envelope) {
	data, err := json.Marshal(envelope{Origin: b.id, Envelope: env})
	if err != nil {
		slog.Error("failed to marshal bridge envelope", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		slog.Warn("failed to relay event", "error", err)
	}
}

// Run subscribes to the channel and injects remote envelopes into the
// local hub until the context is cancelled.
func (b *RedisBridge) Run(ctx context.Context, h *hub.Hub) error {
	pubsub := b.rdb.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	for {
		select {
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("dropping malformed bridge envelope", "error", err)
				continue
			}
			if env.Origin == b.id {
				continue
			}
			h.Deliver(env.Envelope)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}
