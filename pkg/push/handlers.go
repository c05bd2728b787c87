package push

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxPayloadBytes bounds subscription and push payload reads.
const maxPayloadBytes = 64 * 1024

// SubscribeHandler registers the PushSubscription posted by the browser.
func (h *Hub) SubscribeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}

		sub, err := SubscriptionFromJSON(body)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Rejecting invalid subscription")
			http.Error(w, "invalid subscription", http.StatusBadRequest)
			return
		}
		h.Subscribe(sub)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"endpoint": sub.Endpoint})
	})
}

// PushHandler accepts a push payload and broadcasts the resulting
// notification to connected listeners.
func (h *Hub) PushHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}

		n := h.HandlePush(payload)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(n)
	})
}

// NotificationsHandler streams notifications to the client as
// server-sent events until the client disconnects.
func (h *Hub) NotificationsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch, cancel := h.Listen()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case n := <-ch:
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
