// Package gateway is the SearchX daemon: the request router plus the loopback
// HTTP surface adapters talk to.
//
// DESIGN: One process, one Router. Adapters POST messages and receive the
// router's structured reply; listening adapters (an open popup) also hold a
// WebSocket for best-effort pushes.
//
// ENDPOINTS:
//   - POST /v1/messages       adapter request -> Response (always 200 unless undecodable)
//   - GET  /v1/notifications  WebSocket push channel
//   - GET  /health            liveness
//   - GET  /stats             counters
//
// FILES:
//   - gateway.go:    server wiring and HTTP handlers
//   - router.go:     dispatch table, state, simplify pipeline
//   - types.go:      Request, Response, kinds and error kinds
//   - notifier.go:   Notifier interface and the WebSocket hub
//   - middleware.go: panic recovery, rate limit, logging, origin guard
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/searchx/searchx/external"
	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/monitoring"
	"github.com/searchx/searchx/internal/store"
)

const (
	// HeaderRequestID carries the request ID in and out.
	HeaderRequestID = "X-Request-ID"

	// MaxRateLimitBuckets bounds the per-IP limiter map.
	MaxRateLimitBuckets = 10000

	// MaxRequestBodySize caps adapter messages (page context included).
	MaxRequestBodySize = 1 << 20
)

// loopbackOrigins are always accepted for the WebSocket handshake.
var loopbackOrigins = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"}

// Gateway wires the router, the notification hub and the HTTP server.
type Gateway struct {
	config *config.Config
	router *Router
	hub    *Hub
	store  store.Store

	logger        *monitoring.Logger
	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	tracker       *monitoring.Tracker
	requestLogger *monitoring.RequestLogger

	rateLimiter    *rateLimiter
	originPatterns []string

	handler http.Handler
	server  *http.Server
}

// New builds a gateway from cfg: logging, store, completion client, hub and router.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	logger := monitoring.Global(monitoring.LoggerFromConfig(
		cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat, cfg.Monitoring.LogOutput,
	))

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryEnabled,
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry: %w", err)
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	g := &Gateway{
		config:         cfg,
		store:          st,
		logger:         logger,
		metrics:        monitoring.NewMetricsCollector(),
		alerts:         monitoring.NewAlertManager(logger, monitoring.AlertConfig{HighLatencyThreshold: cfg.Monitoring.HighLatencyThreshold}),
		tracker:        tracker,
		requestLogger:  monitoring.NewRequestLogger(logger),
		originPatterns: append(append([]string(nil), loopbackOrigins...), cfg.Server.AllowedOrigins...),
	}
	g.hub = NewHub(cfg.Notifications.BufferSize, g.metrics)

	g.router, err = NewRouter(ctx, st, external.NewClient(cfg.Completion),
		WithNotifier(g.hub),
		WithMonitoring(g.metrics, g.alerts, g.tracker, g.requestLogger),
		WithLogger(logger),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.Server.RateLimit > 0 {
		g.rateLimiter = newRateLimiter(cfg.Server.RateLimit)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", g.handleMessages)
	mux.HandleFunc("GET /v1/notifications", g.handleNotifications)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)

	g.handler = g.panicRecovery(g.rateLimit(g.loggingMiddleware(g.originGuard(mux))))
	g.server = &http.Server{
		Addr:         g.Addr(),
		Handler:      g.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g, nil
}

// Handler returns the full middleware-wrapped handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Router returns the request router.
func (g *Gateway) Router() *Router { return g.router }

// Addr is the loopback listen address.
func (g *Gateway) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(g.config.Server.Port))
}

// Start listens on the loopback address and blocks until Shutdown.
// It returns nil after a clean shutdown, including one that ran first.
func (g *Gateway) Start() error {
	g.logger.Info().
		Str("addr", g.server.Addr).
		Str("model", g.config.Completion.Model).
		Str("store", g.config.Store.Type).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Shutdown stops the server, disconnects listeners and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	g.hub.Close()
	if err := g.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if g.rateLimiter != nil {
		g.rateLimiter.close()
	}
	if err := g.tracker.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		g.writeError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		g.alerts.FlagInvalidRequest(monitoring.RequestIDFromContext(r.Context()), "", err.Error())
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.writeJSON(w, http.StatusOK, g.router.Handle(r.Context(), req))
}

func (g *Gateway) handleNotifications(w http.ResponseWriter, r *http.Request) {
	g.hub.ServeWS(w, r, g.originPatterns)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := g.metrics.Stats()
	stats["subscribers"] = int64(g.hub.Subscribers())
	g.writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug().Err(err).Msg("failed to write response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, Response{Success: false, Error: msg})
}
