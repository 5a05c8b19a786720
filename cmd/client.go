package main

// CLI adapters - how subcommands reach the router.
//
// DESIGN: A subcommand never touches settings directly. It sends the same
// messages the browser extension sends, either to the running daemon
// (POST /v1/messages) or to an in-process router over the shared store.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/searchx/searchx/external"
	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/monitoring"
	"github.com/searchx/searchx/internal/store"
)

// healthTimeout bounds the daemon probe so offline commands stay snappy.
const healthTimeout = 2 * time.Second

// adapter sends one message to a router and returns its reply.
type adapter interface {
	Send(ctx context.Context, req gateway.Request) (gateway.Response, error)
	Close() error
	// Name describes where requests go, for status output.
	Name() string
}

// daemonAdapter talks to a running `searchx serve` over loopback HTTP.
type daemonAdapter struct {
	baseURL string
	client  *http.Client
}

func newDaemonAdapter(baseURL string, timeout time.Duration) *daemonAdapter {
	return &daemonAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *daemonAdapter) Send(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return gateway.Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return gateway.Response{}, fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, gateway.MaxRequestBodySize))
	if err != nil {
		return gateway.Response{}, fmt.Errorf("failed to read daemon reply: %w", err)
	}

	var out gateway.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return gateway.Response{}, fmt.Errorf("daemon replied %d with an unreadable body: %w", resp.StatusCode, err)
	}
	return out, nil
}

func (d *daemonAdapter) Close() error { return nil }

func (d *daemonAdapter) Name() string { return "daemon at " + d.baseURL }

// localAdapter drives an in-process router over the configured store.
type localAdapter struct {
	router *gateway.Router
	store  store.Store
}

func newLocalAdapter(ctx context.Context, cfg *config.Config) (*localAdapter, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	router, err := gateway.NewRouter(ctx, st, external.NewClient(cfg.Completion),
		gateway.WithNotifier(gateway.NopNotifier{}),
		// Level is left to zerolog's global level, set by setupLogging.
		gateway.WithLogger(monitoring.New(monitoring.LoggerFromConfig("debug", "console", "stderr"))),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &localAdapter{router: router, store: st}, nil
}

func (l *localAdapter) Send(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	return l.router.Handle(ctx, req), nil
}

func (l *localAdapter) Close() error { return l.store.Close() }

func (l *localAdapter) Name() string { return "local store" }

// daemonURL is the loopback base URL of the daemon for cfg.
func daemonURL(cfg *config.Config) string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port))
}

// checkGatewayRunning reports whether a daemon answers /health at baseURL.
func checkGatewayRunning(baseURL string) bool {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// connect picks the daemon when it is up, else an in-process router.
// A memory store cannot be shared, so local mode is refused for it.
func connect(ctx context.Context, cfg *config.Config, forceLocal bool) (adapter, error) {
	if !forceLocal {
		base := daemonURL(cfg)
		if checkGatewayRunning(base) {
			log.Debug().Str("url", base).Msg("using running daemon")
			// Simplify waits on the upstream call; leave headroom over its deadline.
			return newDaemonAdapter(base, cfg.Completion.Timeout+10*time.Second), nil
		}
	}

	if cfg.Store.Type == "memory" {
		return nil, fmt.Errorf("daemon is not running and store.type is memory; start it with `searchx serve`")
	}
	log.Debug().Str("store", cfg.Store.Type).Msg("daemon not running, using local store")
	return newLocalAdapter(ctx, cfg)
}
