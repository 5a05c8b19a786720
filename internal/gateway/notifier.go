// Best-effort push channel from the router to listening adapters.
//
// DESIGN: Notify never blocks and never fails the caller:
//   - zero subscribers   -> logged no-op (the popup is usually closed)
//   - subscriber lagging -> message dropped for that subscriber, counted
//
// Each WebSocket client owns a buffered channel drained by its own writer
// goroutine, so a slow socket cannot stall a simplify reply.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/searchx/searchx/internal/monitoring"
)

// Notification types pushed to adapters.
const (
	NotifySimplifiedText = "simplifiedText"
	NotifyError          = "error"
	NotifyAPIKeyError    = "apiKeyError"
)

// DefaultNotifyBuffer is the per-subscriber queue length when unset.
const DefaultNotifyBuffer = 16

const notifyWriteTimeout = 5 * time.Second

// Notification is one pushed frame.
type Notification struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Notifier delivers notifications to whichever adapters are listening.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Hub fans notifications out to subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Notification]struct{}
	closed      bool
	bufferSize  int
	metrics     *monitoring.MetricsCollector
}

// NewHub creates a hub. metrics may be nil.
func NewHub(bufferSize int, metrics *monitoring.MetricsCollector) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultNotifyBuffer
	}
	return &Hub{
		subscribers: make(map[chan Notification]struct{}),
		bufferSize:  bufferSize,
		metrics:     metrics,
	}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away; it closes the channel unless Close already did.
// After Close the channel comes back already closed.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, h.bufferSize)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Notify implements Notifier.
func (h *Hub) Notify(ctx context.Context, n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	requestID := monitoring.RequestIDFromContext(ctx)
	if len(h.subscribers) == 0 {
		log.Debug().Str("request_id", requestID).Str("type", n.Type).Msg("notify: no listeners")
		return
	}

	for ch := range h.subscribers {
		select {
		case ch <- n:
			h.record(true)
		default:
			h.record(false)
			log.Warn().Str("request_id", requestID).Str("type", n.Type).Msg("notify: subscriber buffer full, dropped")
		}
	}
}

func (h *Hub) record(delivered bool) {
	if h.metrics != nil {
		h.metrics.RecordNotification(delivered)
	}
}

// ServeWS upgrades the request and streams notifications until either side
// goes away. Inbound frames are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, originPatterns []string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("notify: websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.Subscribe()
	defer cancel()

	// CloseRead discards inbound frames and cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())
	log.Debug().Int("subscribers", h.Subscribers()).Msg("notify: listener connected")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("notify: listener disconnected")
			return
		case n, open := <-ch:
			if !open {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, done := context.WithTimeout(ctx, notifyWriteTimeout)
			err := wsjson.Write(writeCtx, conn, n)
			done()
			if err != nil {
				log.Debug().Err(err).Msg("notify: write failed")
				return
			}
		}
	}
}

// Close disconnects every listener and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// NopNotifier discards notifications. Used by the CLI, which has no listeners.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Notification) {}

var (
	_ Notifier = (*Hub)(nil)
	_ Notifier = NopNotifier{}
)
