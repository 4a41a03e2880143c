package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"perepiska/internal/metrics"
	"perepiska/internal/models"
	"perepiska/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	UpsertPushSubscription(sub storage.DBPushSubscription) error
	ListPushSubscriptions(userID string) ([]storage.DBPushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact mailto/URL required by the push protocol.
	Subscriber string
}

// Enabled reports whether the service has keys to send with.
func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Service delivers web-push notifications to participants that have no
// live session. Strictly best-effort: failures are logged, never
// surfaced to the sender.
type Service struct {
	cfg   Config
	store SubscriptionStore
}

func NewService(cfg Config, store SubscriptionStore) *Service {
	return &Service{cfg: cfg, store: store}
}

// Subscribe stores a browser subscription for the user.
func (s *Service) Subscribe(userID, endpoint, p256dh, auth string) error {
	return s.store.UpsertPushSubscription(storage.DBPushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		P256dh:   p256dh,
		Auth:     auth,
	})
}

// Unsubscribe drops a subscription.
func (s *Service) Unsubscribe(userID, endpoint string) error {
	return s.store.DeletePushSubscription(userID, endpoint)
}

type notification struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Preview  string `json:"preview"`
}

// MessageCreated notifies every offline participant about a new message.
func (s *Service) MessageCreated(ctx context.Context, userIDs []string, chat models.Chat, message models.Message) {
	if !s.cfg.Enabled() {
		return
	}

	preview := message.Content
	if preview == "" && message.Media != nil {
		preview = string(message.Media.Kind)
	}
	const maxPreview = 120
	if len(preview) > maxPreview {
		preview = preview[:maxPreview]
	}
	payload, err := json.Marshal(notification{
		ChatID:   chat.ID,
		SenderID: message.SenderID,
		Preview:  preview,
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	for _, userID := range userIDs {
		subs, err := s.store.ListPushSubscriptions(userID)
		if err != nil {
			slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
			continue
		}
		for _, sub := range subs {
			s.send(userID, sub, payload)
		}
	}
}

func (s *Service) send(userID string, sub storage.DBPushSubscription, payload []byte) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		slog.Warn("web push failed", "user_id", userID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		// Endpoint is dead; forget the subscription.
		_ = s.store.DeletePushSubscription(userID, sub.Endpoint)
	default:
		metrics.PushesSent.Inc()
	}
}
