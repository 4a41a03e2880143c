package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perepiska_messages_sent_total",
		Help: "Messages accepted by the mutation gateway.",
	})
	MessagesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perepiska_messages_edited_total",
		Help: "Successful message edits.",
	})
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perepiska_messages_deleted_total",
		Help: "Successful message deletions, for-me and for-all.",
	})
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perepiska_ws_connections",
		Help: "Currently attached websocket sessions.",
	})
	TypingSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perepiska_typing_signals_total",
		Help: "Typing-start signals received.",
	})
	PushesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perepiska_pushes_sent_total",
		Help: "Web-push notifications dispatched to offline users.",
	})
)

// Handler exposes the default registry, mounted on the admin server.
func Handler() http.Handler {
	return promhttp.Handler()
}
