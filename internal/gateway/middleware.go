// HTTP middleware for the adapter surface.
//
// DESIGN: Middleware chain (applied in order):
//  1. panicRecovery:     Catch panics, return 500, raise a panic alert
//  2. rateLimit:         Per-client token bucket (0 disables)
//  3. loggingMiddleware: Request ID, request/response logging with timing
//  4. originGuard:       Reject foreign Origins, security headers, CORS
//
// The daemon listens on loopback, but any web page the user opens can still
// reach it. A browser always sends Origin on cross-origin requests, so a
// request carrying an Origin that is not loopback or a configured extension
// is refused before it reaches the router.
package gateway

import (
	"bufio"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searchx/searchx/internal/monitoring"
)

// =============================================================================
// RESPONSE WRITER
// =============================================================================

// statusRecorder remembers the status code for the response log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack hands the connection to the WebSocket upgrade.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// clientBucket is the token state of one client address.
type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// rateLimiter refills each client's bucket at rate tokens per second, up to rate.
type rateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientBucket
	rate       float64
	maxClients int

	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(rate int) *rateLimiter {
	rl := &rateLimiter{
		clients:    make(map[string]*clientBucket),
		rate:       float64(rate),
		maxClients: MaxRateLimitBuckets,
		stop:       make(chan struct{}),
	}
	go rl.sweep(5*time.Minute, 10*time.Minute)
	return rl
}

// allow spends one token for client, reporting false when none is left.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			rl.dropLeastRecent()
		}
		b = &clientBucket{tokens: rl.rate, lastSeen: now}
		rl.clients[client] = b
	}

	b.tokens = min(rl.rate, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// dropLeastRecent evicts the idlest client. Caller holds mu.
func (rl *rateLimiter) dropLeastRecent() {
	var (
		victim string
		oldest time.Time
	)
	for client, b := range rl.clients {
		if victim == "" || b.lastSeen.Before(oldest) {
			victim, oldest = client, b.lastSeen
		}
	}
	delete(rl.clients, victim)
}

// sweep forgets clients idle for longer than idle until close.
func (rl *rateLimiter) sweep(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for client, b := range rl.clients {
				if now.Sub(b.lastSeen) > idle {
					delete(rl.clients, client)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// rateLimit rejects clients over the configured request rate with 429.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	if g.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !g.rateLimiter.allow(client) {
			g.logger.Warn().Str("client", client).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			g.writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr is the peer IP. Forwarding headers are ignored: the daemon is
// only reachable on loopback, so they would only let a caller pick its bucket.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// =============================================================================
// LOGGING AND RECOVERY
// =============================================================================

// loggingMiddleware assigns a request ID and logs request/response with timing.
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		r = r.WithContext(monitoring.WithRequestIDContext(r.Context(), requestID))

		g.requestLogger.LogIncoming(monitoring.NewRequestInfo(r, requestID, int(max(r.ContentLength, 0))))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		g.requestLogger.LogResponse(&monitoring.ResponseInfo{
			RequestID:  requestID,
			StatusCode: rec.status,
			Latency:    time.Since(start),
		})
	})
}

// panicRecovery turns a handler panic into a 500 and a panic alert.
func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				g.alerts.FlagPanic(monitoring.RequestIDFromContext(r.Context()), p, string(debug.Stack()))
				g.writeError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// ORIGIN GUARD
// =============================================================================

// loopbackHosts are the hostnames a local page or tool may use.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// originGuard sets security headers, refuses foreign Origins with 403 and
// answers CORS preflights for allowed ones.
func (g *Gateway) originGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Add("Vary", "Origin")

		if origin := r.Header.Get("Origin"); origin != "" {
			if !g.isAllowedOrigin(origin) {
				g.alerts.FlagInvalidRequest(monitoring.RequestIDFromContext(r.Context()), "", "origin not allowed: "+origin)
				g.writeError(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin accepts http(s) pages on a loopback host, and any origin
// whose host matches a configured pattern (an extension ID, for example).
// Hosts are compared exactly, so "localhost.example.com" is not loopback.
func (g *Gateway) isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		hostname := strings.ToLower(u.Hostname())
		for _, h := range loopbackHosts {
			if hostname == h {
				return true
			}
		}
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range g.config.Server.AllowedOrigins {
		if matched, _ := path.Match(strings.ToLower(pattern), host); matched {
			return true
		}
	}
	return false
}

// isJSON reports whether the request declares a JSON body. Browsers only send
// application/json cross-origin after a preflight, which the guard controls.
func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
