// Chat-completion client.
//
// Complete is the single entry point. It validates input locally, builds the
// two instructions, issues one POST with a bearer credential and extracts the
// first choice's message text.
//
// FAILURE MAPPING:
//   - non-2xx with {error:{message}}  -> ErrKindUpstream, upstream message
//   - non-2xx without a message       -> ErrKindUpstream, "API request failed"
//   - 2xx without choices[0]          -> ErrKindUpstream, "malformed completion response"
//   - deadline exceeded               -> ErrKindTimeout
//   - any other transport failure     -> ErrKindTransport
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/monitoring"
	"github.com/searchx/searchx/internal/settings"
)

const (
	// DefaultTimeout for completion calls when the config leaves it unset.
	DefaultTimeout = 30 * time.Second

	// DefaultTokenMultiplier converts the word ceiling into max_tokens.
	DefaultTokenMultiplier = 4

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024
)

// Client calls the chat-completion endpoint.
type Client struct {
	endpoint          string
	model             string
	temperature       float64
	timeout           time.Duration
	tokenMultiplier   int
	maxSelectionWords int
	httpClient        *http.Client
	tokens            *tokenEstimator
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (tests, connection pooling).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client from the completion section of the config.
func NewClient(cfg config.CompletionConfig, opts ...Option) *Client {
	c := &Client{
		endpoint:          cfg.Endpoint,
		model:             cfg.Model,
		temperature:       cfg.Temperature,
		timeout:           cfg.Timeout,
		tokenMultiplier:   cfg.TokenMultiplier,
		maxSelectionWords: cfg.MaxSelectionWords,
		httpClient:        &http.Client{}, // timeout via context, not client
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.tokenMultiplier <= 0 {
		c.tokenMultiplier = DefaultTokenMultiplier
	}
	if cfg.CountTokens {
		c.tokens = newTokenEstimator(cfg.Model)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete transforms req.SelectedText according to req's mode, length and language.
func (c *Client) Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResult, error) {
	if !settings.ValidAPIKey(apiKey) {
		return nil, &CompletionError{Kind: ErrKindInvalidInput, Message: "Invalid or missing API key"}
	}
	if strings.TrimSpace(req.SelectedText) == "" {
		return nil, &CompletionError{Kind: ErrKindInvalidInput, Message: "selected text is empty"}
	}
	if c.maxSelectionWords > 0 {
		if n := countWords(req.SelectedText); n > c.maxSelectionWords {
			return nil, &CompletionError{
				Kind:    ErrKindSelectionTooLong,
				Message: fmt.Sprintf("selected text has %d words; select at most %d", n, c.maxSelectionWords),
			}
		}
	}

	messages := []ChatMessage{
		{Role: "system", Content: BuildSystemPrompt(req)},
		{Role: "user", Content: BuildUserPrompt(req)},
	}
	ceiling := req.WordCeiling()
	result := &CompletionResult{
		Model:       c.model,
		WordCeiling: ceiling,
		MaxTokens:   ceiling * c.tokenMultiplier,
	}

	body, err := c.buildRequestBody(messages, result.MaxTokens)
	if err != nil {
		return nil, &CompletionError{Kind: ErrKindInvalidInput, Message: "failed to encode request", Err: err}
	}
	if c.tokens != nil {
		result.PromptTokens = c.tokens.Count(messages)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &CompletionError{Kind: ErrKindTransport, Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if id := monitoring.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	log.Debug().
		Str("request_id", monitoring.RequestIDFromContext(ctx)).
		Str("model", c.model).
		Str("mode", string(req.Mode)).
		Int("word_ceiling", ceiling).
		Int("max_tokens", result.MaxTokens).
		Int("prompt_tokens_est", result.PromptTokens).
		Msg("completion request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CompletionError{
			Kind:       ErrKindUpstream,
			Message:    upstreamMessage(respBody),
			StatusCode: resp.StatusCode,
		}
	}

	return parseResponse(respBody, result)
}

// buildRequestBody assembles {model, messages, max_tokens, temperature}.
func (c *Client) buildRequestBody(messages []ChatMessage, maxTokens int) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", c.model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "messages", messages); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", maxTokens); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "temperature", c.temperature)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CompletionError{
			Kind:    ErrKindTimeout,
			Message: fmt.Sprintf("completion request timed out after %s", c.timeout),
			Err:     err,
		}
	}
	return &CompletionError{
		Kind:    ErrKindTransport,
		Message: "network request failed: " + err.Error(),
		Err:     err,
	}
}

// upstreamMessage extracts error.message from the envelope, if any.
func upstreamMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && strings.TrimSpace(msg.String()) != "" {
		return strings.TrimSpace(msg.String())
	}
	return GenericUpstreamMessage
}

func parseResponse(body []byte, result *CompletionResult) (*CompletionResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &CompletionError{Kind: ErrKindUpstream, Message: "malformed completion response"}
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return nil, &CompletionError{Kind: ErrKindUpstream, Message: "malformed completion response"}
	}
	result.Text = strings.TrimSpace(content.String())

	usage := gjson.GetBytes(body, "usage")
	if pt := usage.Get("prompt_tokens"); pt.Exists() {
		result.PromptTokens = int(pt.Int())
	}
	result.OutputTokens = int(usage.Get("completion_tokens").Int())
	if m := gjson.GetBytes(body, "model"); m.Exists() {
		result.Model = m.String()
	}
	return result, nil
}
