package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offline_proxy_control_messages_total",
	Help: "Total control-channel messages by type",
}, []string{"type"})

// Message is a structured control message posted by the host page.
type Message struct {
	Type string `json:"type"`
}

// MessageSkipWaiting asks a waiting new version to activate immediately
// instead of waiting for all pages to close. It is the only supported
// non-default activation trigger.
const MessageSkipWaiting = "SKIP_WAITING"

// ControlHandler dispatches host-page messages to the lifecycle. Each
// message type maps to one handler in a fixed dispatch table.
func (p *Proxy) ControlHandler() http.Handler {
	handlers := map[string]func(context.Context) error{
		MessageSkipWaiting: p.sup.SkipWaiting,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		messagesTotal.WithLabelValues(msg.Type).Inc()

		handler, ok := handlers[msg.Type]
		if !ok {
			p.logger.Warn().Str("type", msg.Type).Msg("Unknown control message")
			http.Error(w, "unknown message type", http.StatusBadRequest)
			return
		}

		if err := handler(r.Context()); err != nil {
			p.logger.Error().Err(err).Str("type", msg.Type).Msg("Control message failed")
			http.Error(w, "message handling failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	})
}
