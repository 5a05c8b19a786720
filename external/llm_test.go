package external_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/searchx/searchx/external"
	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/settings"
)

var validKey = "sk-" + strings.Repeat("x", 25)

func newClient(endpoint string, mutate ...func(*config.CompletionConfig)) *external.Client {
	cfg := config.CompletionConfig{
		Endpoint:          endpoint,
		Model:             "gpt-4o-mini",
		Temperature:       0.7,
		Timeout:           5 * time.Second,
		TokenMultiplier:   4,
		MaxSelectionWords: 700,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return external.NewClient(cfg)
}

func request(text string) external.CompletionRequest {
	return external.CompletionRequest{
		SelectedText: text,
		Mode:         settings.ModeExplain,
		Length:       settings.LengthMedium,
		Language:     settings.LanguageEnglish,
	}
}

// =============================================================================
// SUCCESS PATH
// =============================================================================

func TestComplete_Success(t *testing.T) {
	var captured []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"role":"assistant","content":"  Résumé court.\n"}}],"usage":{"prompt_tokens":120,"completion_tokens":6}}`))
	}))
	defer srv.Close()

	req := external.CompletionRequest{
		SelectedText: "Le changement climatique ...",
		Mode:         settings.ModeSummarize,
		Length:       settings.LengthShort,
		Language:     "fr",
		PageContext:  settings.PageContext{Title: "Climat", Paragraphs: []string{"Premier paragraphe.", "Second."}},
	}
	res, err := newClient(srv.URL).Complete(context.Background(), req, validKey)
	require.NoError(t, err)

	assert.Equal(t, "Résumé court.", res.Text)
	assert.Equal(t, 20, res.WordCeiling)
	assert.Equal(t, 80, res.MaxTokens)
	assert.Equal(t, 120, res.PromptTokens)
	assert.Equal(t, 6, res.OutputTokens)
	assert.Equal(t, "gpt-4o-mini-2024", res.Model)
	assert.Equal(t, "Bearer "+validKey, auth)

	body := gjson.ParseBytes(captured)
	assert.Equal(t, "gpt-4o-mini", body.Get("model").String())
	assert.Equal(t, int64(80), body.Get("max_tokens").Int())
	assert.InDelta(t, 0.7, body.Get("temperature").Float(), 1e-9)
	require.Equal(t, 2, len(body.Get("messages").Array()))

	system := body.Get("messages.0")
	assert.Equal(t, "system", system.Get("role").String())
	assert.Contains(t, system.Get("content").String(), "French")
	assert.Contains(t, system.Get("content").String(), "at most 20 words")
	assert.Contains(t, system.Get("content").String(), "neutral")

	user := body.Get("messages.1")
	assert.Equal(t, "user", user.Get("role").String())
	assert.Contains(t, user.Get("content").String(), "Le changement climatique ...")
	assert.Contains(t, user.Get("content").String(), "Title: Climat")
	assert.Contains(t, user.Get("content").String(), "Second.")
}

func TestComplete_MaxTokensFollowsLength(t *testing.T) {
	tests := []struct {
		length settings.Length
		want   int64
	}{
		{settings.LengthShort, 80},
		{settings.LengthShorter, 120},
		{settings.LengthMedium, 200},
		{settings.LengthLonger, 280},
		{settings.LengthLongest, 400},
	}
	for _, tt := range tests {
		t.Run(string(tt.length), func(t *testing.T) {
			var got int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				got = gjson.GetBytes(b, "max_tokens").Int()
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
			}))
			defer srv.Close()

			req := request("some text")
			req.Length = tt.length
			_, err := newClient(srv.URL).Complete(context.Background(), req, validKey)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// LOCAL REJECTIONS - no network call
// =============================================================================

func TestComplete_LocalRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newClient(srv.URL, func(cfg *config.CompletionConfig) { cfg.MaxSelectionWords = 5 })

	tests := []struct {
		name string
		req  external.CompletionRequest
		key  string
		kind external.ErrorKind
	}{
		{"short key", request("text"), "sk-short", external.ErrKindInvalidInput},
		{"empty key", request("text"), "", external.ErrKindInvalidInput},
		{"empty selection", request("   "), validKey, external.ErrKindInvalidInput},
		{"too long", request("one two three four five six"), validKey, external.ErrKindSelectionTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Complete(context.Background(), tt.req, tt.key)
			var ce *external.CompletionError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.kind, ce.Kind)
		})
	}
	assert.Equal(t, int32(0), calls.Load())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestComplete_UpstreamErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), request("text"), validKey)
	var ce *external.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, external.ErrKindUpstream, ce.Kind)
	assert.Equal(t, "rate limited", ce.Message)
	assert.Equal(t, http.StatusTooManyRequests, ce.StatusCode)
	assert.Contains(t, ce.Error(), "429")
}

func TestComplete_UpstreamErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), request("text"), validKey)
	var ce *external.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, external.GenericUpstreamMessage, ce.Message)
}

func TestComplete_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), request("text"), validKey)
	var ce *external.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, external.ErrKindUpstream, ce.Kind)
	assert.Contains(t, ce.Message, "malformed")
}

func TestComplete_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Complete(context.Background(), request("text"), validKey)
	var ce *external.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, external.ErrKindTransport, ce.Kind)
	assert.Contains(t, ce.Message, "network request failed")
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(srv.URL, func(cfg *config.CompletionConfig) { cfg.Timeout = 50 * time.Millisecond })
	_, err := c.Complete(context.Background(), request("text"), validKey)
	var ce *external.CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, external.ErrKindTimeout, ce.Kind)
	assert.Contains(t, ce.Message, "timed out")
}

func TestNewClient_Defaults(t *testing.T) {
	c := external.NewClient(config.CompletionConfig{Endpoint: "http://localhost", Model: "m"})
	assert.Equal(t, external.DefaultTimeout, c.Timeout())
	assert.Equal(t, "m", c.Model())
}
