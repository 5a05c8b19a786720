// Package settings defines the user-facing settings model shared by the router,
// the completion client and the persistent store.
//
// DESIGN: Every enum has a Parse* function that rejects unknown values instead of
// falling back to a default. Defaults are applied only when a key is absent from
// the store (first run), never to repair bad input.
//
// FILES:
//   - settings.go: Settings, enums, defaults, validity predicate, word ceilings
//   - language.go: supported output languages (x/text tags and display names)
//   - keys.go:     storage key names and string codecs
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// MinAPIKeyLength is the shortest key that passes the local validity check.
const MinAPIKeyLength = 20

// DefaultWordCeiling applies to lengths the table does not know.
const DefaultWordCeiling = 50

// =============================================================================
// MODE
// =============================================================================

// Mode selects how the selected text is transformed.
type Mode string

const (
	ModeExplain   Mode = "explain"
	ModeSummarize Mode = "summarize"
	ModeLookup    Mode = "lookup"
)

// Modes lists every recognized mode in menu order.
var Modes = []Mode{ModeExplain, ModeSummarize, ModeLookup}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	if !lo.Contains(Modes, m) {
		return "", fmt.Errorf("unknown mode %q (expected one of %s)", s, joinNames(Modes))
	}
	return m, nil
}

// =============================================================================
// LENGTH
// =============================================================================

// Length is the requested output length bucket.
type Length string

const (
	LengthShort   Length = "short"
	LengthShorter Length = "shorter"
	LengthMedium  Length = "medium"
	LengthLonger  Length = "longer"
	LengthLongest Length = "longest"
)

// Lengths lists every recognized length, shortest first.
var Lengths = []Length{LengthShort, LengthShorter, LengthMedium, LengthLonger, LengthLongest}

var wordCeilings = map[Length]int{
	LengthShort:   20,
	LengthShorter: 30,
	LengthMedium:  50,
	LengthLonger:  70,
	LengthLongest: 100,
}

// ParseLength validates a length name.
func ParseLength(s string) (Length, error) {
	l := Length(strings.TrimSpace(s))
	if !lo.Contains(Lengths, l) {
		return "", fmt.Errorf("unknown length %q (expected one of %s)", s, joinNames(Lengths))
	}
	return l, nil
}

// WordCeiling returns the maximum number of words the model may produce.
func WordCeiling(l Length) int {
	if n, ok := wordCeilings[l]; ok {
		return n
	}
	return DefaultWordCeiling
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the persisted user configuration.
type Settings struct {
	APIKey   string   `json:"apiKey,omitempty"`
	Enabled  bool     `json:"enabled"`
	Mode     Mode     `json:"mode"`
	Length   Length   `json:"length"`
	Language Language `json:"language"`
	UserRole string   `json:"userRole,omitempty"`
}

// Defaults returns the first-run settings.
func Defaults() Settings {
	return Settings{
		Enabled:  true,
		Mode:     ModeExplain,
		Length:   LengthMedium,
		Language: LanguageEnglish,
	}
}

// Redacted returns a copy safe to hand to adapters and logs.
func (s Settings) Redacted() Settings {
	s.APIKey = MaskAPIKey(s.APIKey)
	return s
}

// ValidAPIKey is a purely syntactic check. The completion endpoint remains the
// only authority on whether a key is accepted.
func ValidAPIKey(key string) bool {
	return len(key) >= MinAPIKeyLength
}

// MaskAPIKey keeps the first and last four characters of a key.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// PageContext is the background captured from the page the user is reading.
type PageContext struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

// SimplificationResult is the single-slot cache of the latest successful completion.
type SimplificationResult struct {
	OriginalText string    `json:"originalText"`
	ResultText   string    `json:"resultText"`
	CreatedAt    time.Time `json:"createdAt"`
}

func joinNames[T ~string](values []T) string {
	return strings.Join(lo.Map(values, func(v T, _ int) string { return string(v) }), ", ")
}
