package gateway_test

// Router Tests - dispatch, settings state, the simplify pipeline and failure mapping.

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/searchx/searchx/external"
	"github.com/searchx/searchx/internal/config"
	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/settings"
	"github.com/searchx/searchx/internal/store"
)

var validKey = "sk-" + strings.Repeat("x", 25)

// =============================================================================
// FAKES
// =============================================================================

type fakeCompleter struct {
	mu     sync.Mutex
	calls  []external.CompletionRequest
	result *external.CompletionResult
	err    error
	panics bool
}

func (f *fakeCompleter) Complete(_ context.Context, req external.CompletionRequest, _ string) (*external.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

func (f *fakeCompleter) Calls() []external.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]external.CompletionRequest(nil), f.calls...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []gateway.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg gateway.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) Sent() []gateway.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]gateway.Notification(nil), n.sent...)
}

// failingStore fails every write.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) Set(context.Context, map[string]string) error {
	return errors.New("disk full")
}

type fixture struct {
	router    *gateway.Router
	store     *store.MemoryStore
	completer *fakeCompleter
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, seed map[string]string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	if seed != nil {
		require.NoError(t, st.Set(context.Background(), seed))
	}
	f := &fixture{
		store:     st,
		completer: &fakeCompleter{result: &external.CompletionResult{Text: "done"}},
		notifier:  &recordingNotifier{},
	}
	var err error
	f.router, err = gateway.NewRouter(context.Background(), st, f.completer, gateway.WithNotifier(f.notifier))
	require.NoError(t, err)
	return f
}

func (f *fixture) handle(t *testing.T, req gateway.Request) gateway.Response {
	t.Helper()
	return f.router.Handle(context.Background(), req)
}

func (f *fixture) stored(t *testing.T, keys ...string) map[string]string {
	t.Helper()
	got, err := f.store.Get(context.Background(), keys...)
	require.NoError(t, err)
	return got
}

func boolp(b bool) *bool { return &b }

// =============================================================================
// DISPATCH
// =============================================================================

func TestRouter_FirstRunDefaults(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.handle(t, gateway.Request{Kind: gateway.KindGetSettings})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Settings)
	assert.True(t, resp.Settings.Enabled)
	assert.Equal(t, settings.ModeExplain, resp.Settings.Mode)
	assert.Equal(t, settings.LengthMedium, resp.Settings.Length)
	assert.Equal(t, settings.LanguageEnglish, resp.Settings.Language)
}

func TestRouter_UnknownKindRejected(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.handle(t, gateway.Request{Kind: "translatePage"})
	assert.False(t, resp.Success)
	assert.Equal(t, gateway.ErrUnknownRequestKind, resp.ErrorKind)
	assert.Contains(t, resp.Error, "translatePage")
}

func TestRouter_AliasKindsDispatch(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.handle(t, gateway.Request{Kind: "storeAPIKey", Key: validKey})
	require.True(t, resp.Success)

	resp = f.handle(t, gateway.Request{Kind: "checkAPIKey"})
	require.NotNil(t, resp.IsValid)
	assert.True(t, *resp.IsValid)
}

func TestRouter_GetStatus(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.handle(t, gateway.Request{Kind: gateway.KindGetStatus})
	assert.True(t, resp.Success)
	assert.Equal(t, "active", resp.Status)
}

// =============================================================================
// SETTINGS MUTATIONS
// =============================================================================

func TestRouter_RejectsUnknownEnumValuesWithoutStateChange(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyMode:     "summarize",
		settings.KeyLength:   "short",
		settings.KeyLanguage: "fr",
	})

	tests := []struct {
		name string
		req  gateway.Request
		key  string
		want string
	}{
		{"mode", gateway.Request{Kind: gateway.KindSetMode, Mode: "translate"}, settings.KeyMode, "summarize"},
		{"length", gateway.Request{Kind: gateway.KindSetLength, Length: "tiny"}, settings.KeyLength, "short"},
		{"language", gateway.Request{Kind: gateway.KindSetLanguage, Language: "xx"}, settings.KeyLanguage, "fr"},
		{"empty mode", gateway.Request{Kind: gateway.KindSetMode}, settings.KeyMode, "summarize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.handle(t, tt.req)
			assert.False(t, resp.Success)
			assert.Equal(t, gateway.ErrValidation, resp.ErrorKind)
			assert.Equal(t, tt.want, f.stored(t, tt.key)[tt.key])
		})
	}

	s, _ := f.router.State().Snapshot()
	assert.Equal(t, settings.ModeSummarize, s.Mode)
	assert.Equal(t, settings.LengthShort, s.Length)
	assert.Equal(t, settings.Language("fr"), s.Language)
}

func TestRouter_SettingsPersistAndMirror(t *testing.T) {
	f := newFixture(t, nil)

	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetMode, Mode: "lookup"}).Success)
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetLength, Length: "longest"}).Success)
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetLanguage, Language: "JA"}).Success)
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetUserRole, Role: "  a nurse "}).Success)
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetEnabled, Enabled: boolp(false)}).Success)

	assert.Equal(t, map[string]string{
		settings.KeyMode:     "lookup",
		settings.KeyLength:   "longest",
		settings.KeyLanguage: "ja",
		settings.KeyUserRole: "a nurse",
		settings.KeyEnabled:  "false",
	}, f.stored(t, settings.KeyMode, settings.KeyLength, settings.KeyLanguage, settings.KeyUserRole, settings.KeyEnabled))

	s, _ := f.router.State().Snapshot()
	assert.Equal(t, settings.ModeLookup, s.Mode)
	assert.False(t, s.Enabled)
	assert.Equal(t, "a nurse", s.UserRole)
}

func TestRouter_SetEnabledRequiresField(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.handle(t, gateway.Request{Kind: gateway.KindSetEnabled})
	assert.False(t, resp.Success)
	assert.Equal(t, gateway.ErrValidation, resp.ErrorKind)
	assert.Empty(t, f.stored(t, settings.KeyEnabled))
}

func TestRouter_SetModeIdempotent(t *testing.T) {
	once := newFixture(t, nil)
	twice := newFixture(t, nil)

	req := gateway.Request{Kind: gateway.KindSetMode, Mode: "explain"}
	require.True(t, once.handle(t, req).Success)
	require.True(t, twice.handle(t, req).Success)
	require.True(t, twice.handle(t, req).Success)

	all := append(append([]string(nil), settings.SettingsKeys...), settings.ResultKeys...)
	assert.Equal(t, once.stored(t, all...), twice.stored(t, all...))
}

func TestRouter_StorageErrorLeavesMirror(t *testing.T) {
	st := failingStore{store.NewMemoryStore()}
	r, err := gateway.NewRouter(context.Background(), st, &fakeCompleter{})
	require.NoError(t, err)

	resp := r.Handle(context.Background(), gateway.Request{Kind: gateway.KindSetMode, Mode: "lookup"})
	assert.False(t, resp.Success)
	assert.Equal(t, gateway.ErrStorage, resp.ErrorKind)

	s, _ := r.State().Snapshot()
	assert.Equal(t, settings.ModeExplain, s.Mode)
}

// =============================================================================
// API KEY
// =============================================================================

func TestRouter_StoreAPIKeyRejectsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	for _, key := range []string{"", "   "} {
		resp := f.handle(t, gateway.Request{Kind: gateway.KindStoreAPIKey, Key: key})
		assert.False(t, resp.Success)
	}
	assert.Empty(t, f.stored(t, settings.KeyAPIKey))
}

func TestRouter_CheckAPIKeyLengthPredicate(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"absent", "", false},
		{"19 chars", strings.Repeat("k", 19), false},
		{"20 chars", strings.Repeat("k", 20), true},
		{"long", validKey, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.key != "" {
				require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindStoreAPIKey, Key: tt.key}).Success)
			}
			resp := f.handle(t, gateway.Request{Kind: gateway.KindCheckAPIKey})
			require.NotNil(t, resp.IsValid)
			assert.Equal(t, tt.valid, *resp.IsValid)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestRouter_StoreThenCheckRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindStoreAPIKey, Key: "sk-" + strings.Repeat("x", 25)}).Success)

	resp := f.handle(t, gateway.Request{Kind: gateway.KindCheckAPIKey})
	require.NotNil(t, resp.IsValid)
	assert.True(t, *resp.IsValid)
}

func TestRouter_GetSettingsMasksKey(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAPIKey: validKey})
	resp := f.handle(t, gateway.Request{Kind: gateway.KindGetSettings})
	require.NotNil(t, resp.Settings)
	assert.NotEqual(t, validKey, resp.Settings.APIKey)
	assert.Equal(t, settings.MaskAPIKey(validKey), resp.Settings.APIKey)
}

// =============================================================================
// SIMPLIFY - preconditions
// =============================================================================

func TestRouter_SimplifyDisabledNeverCallsUpstream(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAPIKey: validKey})
	require.True(t, f.handle(t, gateway.Request{Kind: gateway.KindSetEnabled, Enabled: boolp(false)}).Success)

	resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "anything"})
	assert.False(t, resp.Success)
	assert.True(t, resp.Disabled)
	assert.Empty(t, f.completer.Calls())
	assert.Empty(t, f.stored(t, settings.ResultKeys...))
	assert.Empty(t, f.notifier.Sent())
}

func TestRouter_SimplifyWithoutValidKeyNeverCallsUpstream(t *testing.T) {
	tests := []struct {
		name string
		seed map[string]string
		kind gateway.ErrorKind
	}{
		{"missing", nil, gateway.ErrMissingAPIKey},
		{"too short", map[string]string{settings.KeyAPIKey: "sk-short"}, gateway.ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.seed)
			resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "anything"})

			assert.False(t, resp.Success)
			assert.Equal(t, "Invalid or missing API key", resp.Error)
			assert.Equal(t, tt.kind, resp.ErrorKind)
			assert.Empty(t, f.completer.Calls())
			assert.Equal(t, []gateway.Notification{{Type: gateway.NotifyAPIKeyError, Error: gateway.MsgInvalidAPIKey}}, f.notifier.Sent())
		})
	}
}

func TestRouter_SimplifyEmptySelection(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAPIKey: validKey})
	resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "  \n"})
	assert.False(t, resp.Success)
	assert.Equal(t, gateway.ErrValidation, resp.ErrorKind)
	assert.Empty(t, f.completer.Calls())
}

func TestRouter_SimplifySeesKeyWrittenByAnotherAdapter(t *testing.T) {
	f := newFixture(t, nil)
	// Another process (the CLI) writes the shared store directly.
	require.NoError(t, f.store.Set(context.Background(), map[string]string{settings.KeyAPIKey: validKey}))

	resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "hello"})
	assert.True(t, resp.Success)
}

// =============================================================================
// SIMPLIFY - success and failure
// =============================================================================

func TestRouter_SimplifyBuildsRequestFromStateAndContext(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyAPIKey:   validKey,
		settings.KeyMode:     "explain",
		settings.KeyLength:   "longer",
		settings.KeyLanguage: "de",
		settings.KeyUserRole: "a child",
	})
	require.True(t, f.handle(t, gateway.Request{
		Kind:       gateway.KindSetContext,
		Title:      "Cells",
		Paragraphs: []string{"p1", "p2"},
	}).Success)

	resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "mitochondria"})
	require.True(t, resp.Success)
	assert.Equal(t, "done", resp.Simplified)

	calls := f.completer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, external.CompletionRequest{
		SelectedText: "mitochondria",
		Mode:         settings.ModeExplain,
		Length:       settings.LengthLonger,
		Language:     "de",
		UserRole:     "a child",
		PageContext:  settings.PageContext{Title: "Cells", Paragraphs: []string{"p1", "p2"}},
	}, calls[0])
	assert.Equal(t, 70, calls[0].WordCeiling())

	assert.Equal(t, []gateway.Notification{{Type: gateway.NotifySimplifiedText, Text: "done"}}, f.notifier.Sent())
}

func TestRouter_SimplifyFailureMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind gateway.ErrorKind
		msg  string
	}{
		{"upstream", &external.CompletionError{Kind: external.ErrKindUpstream, Message: "model overloaded", StatusCode: 503}, gateway.ErrCompletionFailed, "model overloaded"},
		{"transport", &external.CompletionError{Kind: external.ErrKindTransport, Message: "network request failed: refused"}, gateway.ErrCompletionFailed, "network request failed: refused"},
		{"timeout", &external.CompletionError{Kind: external.ErrKindTimeout, Message: "completion request timed out after 30s"}, gateway.ErrCompletionTimeout, "completion request timed out after 30s"},
		{"too long", &external.CompletionError{Kind: external.ErrKindSelectionTooLong, Message: "select at most 700"}, gateway.ErrValidation, "select at most 700"},
		{"plain error", errors.New("weird"), gateway.ErrCompletionFailed, "weird"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{settings.KeyAPIKey: validKey})
			f.completer.result = nil
			f.completer.err = tt.err

			resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "text"})
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.ErrorKind)
			assert.Equal(t, tt.msg, resp.Error)
			assert.Empty(t, f.stored(t, settings.ResultKeys...))
			assert.Equal(t, []gateway.Notification{{Type: gateway.NotifyError, Error: tt.msg}}, f.notifier.Sent())
		})
	}
}

func TestRouter_PanicBecomesStructuredReply(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAPIKey: validKey})
	f.completer.panics = true

	resp := f.handle(t, gateway.Request{Kind: gateway.KindSimplify, Text: "text"})
	assert.False(t, resp.Success)
	assert.Equal(t, gateway.ErrInternal, resp.ErrorKind)
	assert.Equal(t, int64(1), f.router.Metrics().Stats()["rejected"])
}

// =============================================================================
// SIMPLIFY - end to end through the completion client
// =============================================================================

func upstream(t *testing.T, handler http.HandlerFunc) *external.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return external.NewClient(config.CompletionConfig{
		Endpoint:          srv.URL,
		Model:             "gpt-4o-mini",
		Temperature:       0.7,
		Timeout:           5 * time.Second,
		TokenMultiplier:   4,
		MaxSelectionWords: 700,
	})
}

func TestRouter_FrenchSummarizeScenario(t *testing.T) {
	var body []byte
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Résumé court."}}]}`))
	})

	st := store.NewMemoryStore()
	require.NoError(t, st.Set(context.Background(), map[string]string{
		settings.KeyAPIKey:   "sk-" + strings.Repeat("x", 25),
		settings.KeyMode:     "summarize",
		settings.KeyLength:   "short",
		settings.KeyLanguage: "fr",
		settings.KeyEnabled:  "true",
	}))
	r, err := gateway.NewRouter(context.Background(), st, client)
	require.NoError(t, err)

	resp := r.Handle(context.Background(), gateway.Request{Kind: gateway.KindSimplify, Text: "Le changement climatique ..."})
	assert.Equal(t, gateway.Response{Success: true, Simplified: "Résumé court."}, resp)

	parsed := gjson.ParseBytes(body)
	assert.Equal(t, int64(20*4), parsed.Get("max_tokens").Int())
	system := parsed.Get("messages.0.content").String()
	assert.Contains(t, system, "at most 20 words")
	assert.Contains(t, system, "French")

	got, err := st.Get(context.Background(), settings.ResultKeys...)
	require.NoError(t, err)
	result := settings.ResultFromValues(got)
	require.NotNil(t, result)
	assert.Equal(t, "Le changement climatique ...", result.OriginalText)
	assert.Equal(t, "Résumé court.", result.ResultText)
}

func TestRouter_RateLimitedKeepsPreviousResult(t *testing.T) {
	var limited bool
	var mu sync.Mutex
	client := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if limited {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"first answer"}}]}`))
	})

	st := store.NewMemoryStore()
	require.NoError(t, st.Set(context.Background(), map[string]string{settings.KeyAPIKey: validKey}))
	r, err := gateway.NewRouter(context.Background(), st, client)
	require.NoError(t, err)

	require.True(t, r.Handle(context.Background(), gateway.Request{Kind: gateway.KindSimplify, Text: "first"}).Success)

	mu.Lock()
	limited = true
	mu.Unlock()

	resp := r.Handle(context.Background(), gateway.Request{Kind: gateway.KindSimplify, Text: "second"})
	assert.False(t, resp.Success)
	assert.Equal(t, "rate limited", resp.Error)

	slot := r.Handle(context.Background(), gateway.Request{Kind: gateway.KindGetSimplification})
	require.NotNil(t, slot.Result)
	assert.Equal(t, "first", slot.Result.OriginalText)
	assert.Equal(t, "first answer", slot.Result.ResultText)
}

// =============================================================================
// RESULT SLOT
// =============================================================================

func TestRouter_ResultSlotLifecycle(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(context.Background(), map[string]string{settings.KeyAPIKey: validKey}))
	completer := &fakeCompleter{result: &external.CompletionResult{Text: "short version"}}
	r, err := gateway.NewRouter(context.Background(), st, completer, gateway.WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	ctx := context.Background()

	empty := r.Handle(ctx, gateway.Request{Kind: gateway.KindGetSimplification})
	assert.True(t, empty.Success)
	assert.Nil(t, empty.Result)

	require.True(t, r.Handle(ctx, gateway.Request{Kind: gateway.KindSimplify, Text: "long version"}).Success)

	got := r.Handle(ctx, gateway.Request{Kind: gateway.KindGetSimplification})
	require.NotNil(t, got.Result)
	assert.Equal(t, settings.SimplificationResult{OriginalText: "long version", ResultText: "short version", CreatedAt: fixed}, *got.Result)

	require.True(t, r.Handle(ctx, gateway.Request{Kind: gateway.KindClearSimplification}).Success)
	values, err := st.Get(ctx, settings.ResultKeys...)
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = st.Get(ctx, settings.KeyAPIKey)
	require.NoError(t, err)
	assert.Equal(t, validKey, values[settings.KeyAPIKey], "clearing the slot keeps settings")
}

// =============================================================================
// DECODING
// =============================================================================

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want gateway.Request
	}{
		{
			name: "kind",
			body: `{"kind":"setMode","mode":"lookup"}`,
			want: gateway.Request{Kind: gateway.KindSetMode, Mode: "lookup"},
		},
		{
			name: "action alias with isEnabled",
			body: `{"action":"updateEnabled","isEnabled":false}`,
			want: gateway.Request{Kind: gateway.KindSetEnabled, Enabled: boolp(false)},
		},
		{
			name: "type alias with text",
			body: `{"type":"simplifyText","text":"hello"}`,
			want: gateway.Request{Kind: gateway.KindSimplify, Text: "hello"},
		},
		{
			name: "context data",
			body: `{"action":"contextData","title":"T","paragraphs":["a","b"]}`,
			want: gateway.Request{Kind: gateway.KindSetContext, Title: "T", Paragraphs: []string{"a", "b"}},
		},
		{
			name: "api key alias field",
			body: `{"action":"storeAPIKey","apiKey":"sk-abc"}`,
			want: gateway.Request{Kind: gateway.KindStoreAPIKey, Key: "sk-abc"},
		},
		{
			name: "non-bool enabled ignored",
			body: `{"kind":"setEnabled","enabled":"yes"}`,
			want: gateway.Request{Kind: gateway.KindSetEnabled},
		},
		{
			name: "unknown passes through",
			body: `{"kind":"translatePage"}`,
			want: gateway.Request{Kind: "translatePage"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gateway.DecodeRequest([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2]`, `{"mode":"explain"}`, `{"kind":42}`} {
		_, err := gateway.DecodeRequest([]byte(body))
		assert.Error(t, err, body)
	}
}
