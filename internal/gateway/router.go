// Router dispatches adapter requests through a single table keyed by kind.
//
// DESIGN: The router owns all mutable session state (RouterState): a mirror of
// the persisted settings plus the current page context. Every settings
// mutation is persisted first and mirrored second, so a failed write leaves
// both untouched. The mirror is reloaded from the store before read-side
// operations because the CLI writes the same store while the daemon runs.
//
// simplify, in order:
//  1. disabled             -> {success:false, disabled:true}, nothing else happens
//  2. key missing/invalid  -> {success:false, error}, apiKeyError pushed
//  3. build request from settings snapshot + page context
//  4. call the Completer (state lock NOT held)
//  5. success              -> persist result slot, push simplifiedText, reply
//  6. failure              -> push error, reply, slot untouched
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/searchx/searchx/external"
	"github.com/searchx/searchx/internal/monitoring"
	"github.com/searchx/searchx/internal/settings"
	"github.com/searchx/searchx/internal/store"
)

// Completer produces the transformed text for a selection.
type Completer interface {
	Complete(ctx context.Context, req external.CompletionRequest, apiKey string) (*external.CompletionResult, error)
}

var _ Completer = (*external.Client)(nil)

// =============================================================================
// STATE
// =============================================================================

// RouterState is the in-memory session state. Only the router mutates it.
type RouterState struct {
	mu       sync.RWMutex
	settings settings.Settings
	page     settings.PageContext
}

// Snapshot returns copies of the settings mirror and the page context.
func (s *RouterState) Snapshot() (settings.Settings, settings.PageContext) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page := settings.PageContext{
		Title:      s.page.Title,
		Paragraphs: append([]string(nil), s.page.Paragraphs...),
	}
	return s.settings, page
}

func (s *RouterState) updateSettings(fn func(*settings.Settings)) {
	s.mu.Lock()
	fn(&s.settings)
	s.mu.Unlock()
}

func (s *RouterState) replaceSettings(v settings.Settings) {
	s.mu.Lock()
	s.settings = v
	s.mu.Unlock()
}

func (s *RouterState) setPage(p settings.PageContext) {
	s.mu.Lock()
	s.page = p
	s.mu.Unlock()
}

// =============================================================================
// ROUTER
// =============================================================================

type handlerFunc func(ctx context.Context, req Request) Response

// Router handles adapter requests.
type Router struct {
	state     RouterState
	store     store.Store
	completer Completer
	notifier  Notifier

	// persistMu serializes store write + mirror update pairs.
	persistMu sync.Mutex

	handlers map[Kind]handlerFunc

	logger        *monitoring.Logger
	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	tracker       *monitoring.Tracker
	requestLogger *monitoring.RequestLogger
	now           func() time.Time
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithNotifier sets where best-effort notifications go.
func WithNotifier(n Notifier) RouterOption {
	return func(r *Router) { r.notifier = n }
}

// WithMonitoring wires counters, alerts and telemetry. Any argument may be nil.
func WithMonitoring(metrics *monitoring.MetricsCollector, alerts *monitoring.AlertManager, tracker *monitoring.Tracker, requestLogger *monitoring.RequestLogger) RouterOption {
	return func(r *Router) {
		if metrics != nil {
			r.metrics = metrics
		}
		if alerts != nil {
			r.alerts = alerts
		}
		if requestLogger != nil {
			r.requestLogger = requestLogger
		}
		r.tracker = tracker
	}
}

// WithLogger sets the logger for router events. The default discards them.
func WithLogger(l *monitoring.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now for result timestamps.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router and loads the settings mirror from st.
// Absent keys take their first-run defaults.
func NewRouter(ctx context.Context, st store.Store, completer Completer, opts ...RouterOption) (*Router, error) {
	r := &Router{
		store:         st,
		completer:     completer,
		notifier:      NopNotifier{},
		logger:        monitoring.Nop(),
		metrics:       monitoring.NewMetricsCollector(),
		alerts:        monitoring.NewAlertManager(monitoring.Nop(), monitoring.AlertConfig{}),
		requestLogger: monitoring.NewRequestLogger(monitoring.Nop()),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.handlers = map[Kind]handlerFunc{
		KindSetMode:             r.handleSetMode,
		KindSetLength:           r.handleSetLength,
		KindSetLanguage:         r.handleSetLanguage,
		KindSetEnabled:          r.handleSetEnabled,
		KindSetUserRole:         r.handleSetUserRole,
		KindSetContext:          r.handleSetContext,
		KindStoreAPIKey:         r.handleStoreAPIKey,
		KindCheckAPIKey:         r.handleCheckAPIKey,
		KindSimplify:            r.handleSimplify,
		KindGetSettings:         r.handleGetSettings,
		KindGetSimplification:   r.handleGetSimplification,
		KindClearSimplification: r.handleClearSimplification,
		KindGetStatus:           r.handleGetStatus,
	}

	if err := r.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return r, nil
}

// Reload refreshes the settings mirror from the store.
func (r *Router) Reload(ctx context.Context) error {
	values, err := r.store.Get(ctx, settings.SettingsKeys...)
	if err != nil {
		return err
	}
	r.state.replaceSettings(settings.FromValues(values))
	return nil
}

// State exposes the router's session state for read-only inspection.
func (r *Router) State() *RouterState { return &r.state }

// Metrics returns the router's counters.
func (r *Router) Metrics() *monitoring.MetricsCollector { return r.metrics }

// Handle dispatches req and always returns a reply; panics in a handler are
// converted into an InternalError reply.
func (r *Router) Handle(ctx context.Context, req Request) (resp Response) {
	requestID := monitoring.RequestIDFromContext(ctx)
	kind := CanonicalKind(string(req.Kind))

	defer func() {
		if p := recover(); p != nil {
			r.alerts.FlagPanic(requestID, p, string(debug.Stack()))
			resp = fail(ErrInternal, "internal error")
		}
		r.metrics.RecordRequest(resp.Success)
	}()

	handler, found := r.handlers[kind]
	if !found {
		r.alerts.FlagInvalidRequest(requestID, string(kind), "unknown kind")
		return fail(ErrUnknownRequestKind, fmt.Sprintf("unknown request kind %q", string(req.Kind)))
	}
	r.requestLogger.LogDispatch(requestID, string(kind))
	return handler(ctx, req)
}

// persist writes values then applies the same change to the mirror.
func (r *Router) persist(ctx context.Context, values map[string]string, apply func(*settings.Settings)) Response {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if err := r.store.Set(ctx, values); err != nil {
		r.logger.Ctx(ctx).Error().Err(err).Msg("settings write failed")
		return fail(ErrStorage, fmt.Sprintf("failed to save settings: %v", err))
	}
	r.state.updateSettings(apply)
	return ok()
}

func (r *Router) invalid(ctx context.Context, kind Kind, err error) Response {
	r.alerts.FlagInvalidRequest(monitoring.RequestIDFromContext(ctx), string(kind), err.Error())
	return fail(ErrValidation, err.Error())
}

// refresh reloads the mirror; on failure the current mirror is used as-is.
func (r *Router) refresh(ctx context.Context) {
	if err := r.Reload(ctx); err != nil {
		r.logger.Ctx(ctx).Warn().Err(err).Msg("settings reload failed, using cached settings")
	}
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (r *Router) handleSetMode(ctx context.Context, req Request) Response {
	mode, err := settings.ParseMode(req.Mode)
	if err != nil {
		return r.invalid(ctx, KindSetMode, err)
	}
	return r.persist(ctx, map[string]string{settings.KeyMode: string(mode)}, func(s *settings.Settings) {
		s.Mode = mode
	})
}

func (r *Router) handleSetLength(ctx context.Context, req Request) Response {
	length, err := settings.ParseLength(req.Length)
	if err != nil {
		return r.invalid(ctx, KindSetLength, err)
	}
	return r.persist(ctx, map[string]string{settings.KeyLength: string(length)}, func(s *settings.Settings) {
		s.Length = length
	})
}

func (r *Router) handleSetLanguage(ctx context.Context, req Request) Response {
	lang, err := settings.ParseLanguage(req.Language)
	if err != nil {
		return r.invalid(ctx, KindSetLanguage, err)
	}
	return r.persist(ctx, map[string]string{settings.KeyLanguage: string(lang)}, func(s *settings.Settings) {
		s.Language = lang
	})
}

func (r *Router) handleSetEnabled(ctx context.Context, req Request) Response {
	if req.Enabled == nil {
		return r.invalid(ctx, KindSetEnabled, errors.New("enabled is required"))
	}
	enabled := *req.Enabled
	return r.persist(ctx, map[string]string{settings.KeyEnabled: settings.FormatBool(enabled)}, func(s *settings.Settings) {
		s.Enabled = enabled
	})
}

func (r *Router) handleSetUserRole(ctx context.Context, req Request) Response {
	role := strings.TrimSpace(req.Role)
	return r.persist(ctx, map[string]string{settings.KeyUserRole: role}, func(s *settings.Settings) {
		s.UserRole = role
	})
}

func (r *Router) handleSetContext(_ context.Context, req Request) Response {
	r.state.setPage(settings.PageContext{
		Title:      req.Title,
		Paragraphs: append([]string(nil), req.Paragraphs...),
	})
	return ok()
}

// =============================================================================
// API KEY HANDLERS
// =============================================================================

func (r *Router) handleStoreAPIKey(ctx context.Context, req Request) Response {
	if strings.TrimSpace(req.Key) == "" {
		return r.invalid(ctx, KindStoreAPIKey, errors.New("API key is empty"))
	}
	key := req.Key
	return r.persist(ctx, map[string]string{settings.KeyAPIKey: key}, func(s *settings.Settings) {
		s.APIKey = key
	})
}

// handleCheckAPIKey never fails; a store error reports the key as invalid.
func (r *Router) handleCheckAPIKey(ctx context.Context, _ Request) Response {
	values, err := r.store.Get(ctx, settings.KeyAPIKey)
	if err != nil {
		return Response{Success: true, IsValid: boolPtr(false), Message: fmt.Sprintf("could not read API key: %v", err)}
	}
	key := values[settings.KeyAPIKey]
	valid := settings.ValidAPIKey(key)

	var msg string
	switch {
	case key == "":
		msg = "No API key saved"
	case !valid:
		msg = fmt.Sprintf("API key looks too short (need at least %d characters)", settings.MinAPIKeyLength)
	default:
		msg = "API key saved"
	}
	return Response{Success: true, IsValid: boolPtr(valid), Message: msg}
}

// =============================================================================
// SIMPLIFY
// =============================================================================

func (r *Router) handleSimplify(ctx context.Context, req Request) Response {
	start := time.Now()
	requestID := monitoring.RequestIDFromContext(ctx)

	r.refresh(ctx)
	current, page := r.state.Snapshot()

	event := &monitoring.SimplifyEvent{
		RequestID:     requestID,
		Timestamp:     start,
		Mode:          string(current.Mode),
		Length:        string(current.Length),
		Language:      string(current.Language),
		SelectedWords: len(strings.Fields(req.Text)),
		WordCeiling:   settings.WordCeiling(current.Length),
	}
	defer func() {
		event.LatencyMs = time.Since(start).Milliseconds()
		r.tracker.RecordSimplify(event)
	}()

	if !current.Enabled {
		event.Disabled = true
		event.ErrorKind = string(ErrDisabled)
		return Response{Success: false, Disabled: true, ErrorKind: ErrDisabled}
	}

	if !settings.ValidAPIKey(current.APIKey) {
		kind := ErrInvalidAPIKey
		if current.APIKey == "" {
			kind = ErrMissingAPIKey
		}
		event.ErrorKind = string(kind)
		r.notifier.Notify(ctx, Notification{Type: NotifyAPIKeyError, Error: MsgInvalidAPIKey})
		return fail(kind, MsgInvalidAPIKey)
	}

	if strings.TrimSpace(req.Text) == "" {
		event.ErrorKind = string(ErrValidation)
		return r.invalid(ctx, KindSimplify, errors.New("no text selected"))
	}

	creq := external.CompletionRequest{
		SelectedText: req.Text,
		Mode:         current.Mode,
		Length:       current.Length,
		Language:     current.Language,
		UserRole:     current.UserRole,
		PageContext:  page,
	}

	callStart := time.Now()
	res, err := r.completer.Complete(ctx, creq, current.APIKey)
	latency := time.Since(callStart)
	if err != nil {
		resp := r.completionFailure(ctx, err)
		event.ErrorKind = string(resp.ErrorKind)
		event.Error = resp.Error
		var ce *external.CompletionError
		if errors.As(err, &ce) {
			event.StatusCode = ce.StatusCode
		}
		r.notifier.Notify(ctx, Notification{Type: NotifyError, Error: resp.Error})
		return resp
	}
	r.alerts.FlagHighLatency(requestID, latency, res.Model)
	event.PromptTokens = res.PromptTokens
	event.OutputTokens = res.OutputTokens

	result := settings.SimplificationResult{
		OriginalText: req.Text,
		ResultText:   res.Text,
		CreatedAt:    r.now(),
	}
	if err := r.store.Set(ctx, result.Values()); err != nil {
		r.logger.Ctx(ctx).Error().Err(err).Msg("failed to save simplification")
		event.ErrorKind = string(ErrStorage)
		resp := fail(ErrStorage, fmt.Sprintf("failed to save result: %v", err))
		r.notifier.Notify(ctx, Notification{Type: NotifyError, Error: resp.Error})
		return resp
	}

	r.metrics.RecordSimplification()
	event.Success = true
	r.notifier.Notify(ctx, Notification{Type: NotifySimplifiedText, Text: res.Text})

	r.logger.Ctx(ctx).Info().
		Str("mode", string(current.Mode)).
		Str("length", string(current.Length)).
		Str("language", string(current.Language)).
		Dur("latency", latency).
		Msg("simplified")

	return Response{Success: true, Simplified: res.Text}
}

// completionFailure maps a Completer error to a reply and raises alerts.
func (r *Router) completionFailure(ctx context.Context, err error) Response {
	requestID := monitoring.RequestIDFromContext(ctx)

	var ce *external.CompletionError
	if !errors.As(err, &ce) {
		r.metrics.RecordCompletionFailure()
		return fail(ErrCompletionFailed, err.Error())
	}

	switch ce.Kind {
	case external.ErrKindInvalidInput, external.ErrKindSelectionTooLong:
		r.alerts.FlagInvalidRequest(requestID, string(KindSimplify), ce.Message)
		return fail(ErrValidation, ce.Message)
	case external.ErrKindTimeout:
		r.metrics.RecordCompletionFailure()
		r.alerts.FlagUpstreamTimeout(requestID, completerTimeout(r.completer))
		return fail(ErrCompletionTimeout, ce.Message)
	case external.ErrKindUpstream:
		r.metrics.RecordCompletionFailure()
		r.alerts.FlagUpstreamError(requestID, ce.StatusCode, ce.Message)
		return fail(ErrCompletionFailed, ce.Message)
	default:
		r.metrics.RecordCompletionFailure()
		r.logger.Ctx(ctx).Warn().Err(err).Msg("completion transport failure")
		return fail(ErrCompletionFailed, ce.Message)
	}
}

func completerTimeout(c Completer) time.Duration {
	if t, ok := c.(interface{ Timeout() time.Duration }); ok {
		return t.Timeout()
	}
	return 0
}

// =============================================================================
// READ-SIDE HANDLERS
// =============================================================================

func (r *Router) handleGetSettings(ctx context.Context, _ Request) Response {
	r.refresh(ctx)
	current, _ := r.state.Snapshot()
	redacted := current.Redacted()
	return Response{Success: true, Settings: &redacted}
}

func (r *Router) handleGetSimplification(ctx context.Context, _ Request) Response {
	values, err := r.store.Get(ctx, settings.ResultKeys...)
	if err != nil {
		return fail(ErrStorage, fmt.Sprintf("failed to read result: %v", err))
	}
	return Response{Success: true, Result: settings.ResultFromValues(values)}
}

func (r *Router) handleClearSimplification(ctx context.Context, _ Request) Response {
	if err := r.store.Remove(ctx, settings.ResultKeys...); err != nil {
		return fail(ErrStorage, fmt.Sprintf("failed to clear result: %v", err))
	}
	return ok()
}

func (r *Router) handleGetStatus(context.Context, Request) Response {
	return Response{Success: true, Status: "active"}
}

func boolPtr(b bool) *bool { return &b }
