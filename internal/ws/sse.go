package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scribehq/scribe-backend/internal/events"
	"go.uber.org/zap"
)

// SSEHandler streams bus events as server-sent events.
type SSEHandler struct {
	bus            *events.Bus
	allowedOrigins []string
	logger         *zap.SugaredLogger
}

// NewSSEHandler creates an SSE endpoint reading from bus.
func NewSSEHandler(bus *events.Bus, allowedOrigins []string, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		bus:            bus,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// HandleSSE streams events until the client disconnects. The optional
// "topics" query parameter restricts the subscription to a comma-separated
// list of event types; the default is everything.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if origin := r.Header.Get("Origin"); origin != "" {
		for _, allowed := range h.allowedOrigins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
	}
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	topics := parseTopics(r)
	h.logger.Debugw("SSE connection established", "topics", topics)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.bus.Subscribe(ctx, topics...)
	defer sub.Close()

	h.sendEvent(w, "connected", "stream", []byte(`{}`))

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping",
				[]byte(fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix())))

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			h.sendEvent(w, string(evt.Type), fmt.Sprintf("%d", evt.Timestamp), evt.Data)
		}
	}
}

func parseTopics(r *http.Request) []events.Type {
	topicsParam := r.URL.Query().Get("topics")
	if topicsParam == "" {
		return nil
	}

	parts := strings.Split(topicsParam, ",")
	topics := make([]events.Type, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			topics = append(topics, events.Type(p))
		}
	}
	return topics
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data []byte) {
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", data)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
