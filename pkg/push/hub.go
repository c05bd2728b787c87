package push

import (
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for push delivery.
var (
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_pushes_total",
		Help: "Total push payloads received by parse result",
	}, []string{"result"})

	notificationsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_notifications_delivered_total",
		Help: "Total notifications delivered to connected listeners",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_proxy_push_subscribers",
		Help: "Currently registered push subscriptions",
	})
)

// Notification is the user-visible message derived from a push payload.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Hub keeps the registered subscriptions and the currently connected
// notification listeners, and broadcasts incoming pushes to them.
type Hub struct {
	logger zerolog.Logger

	defaultTitle string
	defaultIcon  string

	mu        sync.RWMutex
	subs      map[string]*Subscription
	listeners map[chan Notification]struct{}
}

// NewHub creates a hub. The defaults fill in notifications whose payload
// omits a title or icon.
func NewHub(defaultTitle, defaultIcon string, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:       logger.With().Str("component", "push").Logger(),
		defaultTitle: defaultTitle,
		defaultIcon:  defaultIcon,
		subs:         make(map[string]*Subscription),
		listeners:    make(map[chan Notification]struct{}),
	}
}

// Subscribe registers a subscription, replacing any previous one with
// the same endpoint.
func (h *Hub) Subscribe(sub *Subscription) {
	h.mu.Lock()
	h.subs[sub.Endpoint] = sub
	subscribersGauge.Set(float64(len(h.subs)))
	h.mu.Unlock()

	h.logger.Info().Str("endpoint", sub.Endpoint).Msg("Push subscription registered")
}

// Unsubscribe removes the subscription with the given endpoint. Unknown
// endpoints are a no-op.
func (h *Hub) Unsubscribe(endpoint string) {
	h.mu.Lock()
	delete(h.subs, endpoint)
	subscribersGauge.Set(float64(len(h.subs)))
	h.mu.Unlock()
}

// Subscriptions returns the currently registered subscriptions.
func (h *Hub) Subscriptions() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Listen registers a notification listener. The returned cancel func
// must be called when the listener goes away.
func (h *Hub) Listen() (<-chan Notification, func()) {
	ch := make(chan Notification, 8)

	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.listeners, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// HandlePush turns a raw push payload into a notification and broadcasts
// it. Payloads that are not valid JSON become a notification with the
// raw payload as body, matching what browsers show for plain-text
// pushes.
func (h *Hub) HandlePush(payload []byte) Notification {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		pushesTotal.WithLabelValues("plain").Inc()
		n = Notification{Body: string(payload)}
	} else {
		pushesTotal.WithLabelValues("json").Inc()
	}

	if n.Title == "" {
		n.Title = h.defaultTitle
	}
	if n.Icon == "" {
		n.Icon = h.defaultIcon
	}

	delivered := h.Broadcast(n)
	h.logger.Debug().
		Str("title", n.Title).
		Int("delivered", delivered).
		Msg("Push payload handled")
	return n
}

// Broadcast sends a notification to every connected listener and returns
// how many received it. Listeners that cannot keep up are skipped rather
// than blocked on.
func (h *Hub) Broadcast(n Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.listeners {
		select {
		case ch <- n:
			delivered++
		default:
			h.logger.Warn().Msg("Dropping notification for slow listener")
		}
	}
	notificationsDeliveredTotal.Add(float64(delivered))
	return delivered
}
