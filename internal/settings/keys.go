package settings

import (
	"strconv"
	"time"
)

// Storage keys. The names match what the extension has always written so an
// exported chrome.storage dump can be imported as-is.
const (
	KeyAPIKey                = "apiKey"
	KeyEnabled               = "isEnabled"
	KeyMode                  = "currentMode"
	KeyLength                = "currentLength"
	KeyLanguage              = "currentLanguage"
	KeyUserRole              = "userName"
	KeyCurrentSimplification = "currentSimplification"
	KeyOriginalText          = "originalText"
	KeySimplifiedAt          = "simplifiedAt"
)

// SettingsKeys are read at startup to rebuild the in-memory mirror.
var SettingsKeys = []string{KeyAPIKey, KeyEnabled, KeyMode, KeyLength, KeyLanguage, KeyUserRole}

// ResultKeys make up the single-slot simplification cache.
var ResultKeys = []string{KeyCurrentSimplification, KeyOriginalText, KeySimplifiedAt}

// FromValues rebuilds Settings from stored values. Absent or unparsable entries
// fall back to Defaults so a corrupted row never blocks startup.
func FromValues(values map[string]string) Settings {
	s := Defaults()
	s.APIKey = values[KeyAPIKey]
	s.UserRole = values[KeyUserRole]
	if v, ok := values[KeyEnabled]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Enabled = b
		}
	}
	if m, err := ParseMode(values[KeyMode]); err == nil {
		s.Mode = m
	}
	if l, err := ParseLength(values[KeyLength]); err == nil {
		s.Length = l
	}
	if lang, err := ParseLanguage(values[KeyLanguage]); err == nil {
		s.Language = lang
	}
	return s
}

// ResultFromValues returns the cached result, or nil when the slot is empty.
func ResultFromValues(values map[string]string) *SimplificationResult {
	text, ok := values[KeyCurrentSimplification]
	if !ok || text == "" {
		return nil
	}
	r := &SimplificationResult{
		OriginalText: values[KeyOriginalText],
		ResultText:   text,
	}
	if ts, err := time.Parse(time.RFC3339Nano, values[KeySimplifiedAt]); err == nil {
		r.CreatedAt = ts
	}
	return r
}

// Values encodes a result for the store.
func (r SimplificationResult) Values() map[string]string {
	return map[string]string{
		KeyCurrentSimplification: r.ResultText,
		KeyOriginalText:          r.OriginalText,
		KeySimplifiedAt:          r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// FormatBool encodes the enabled flag the way it is stored.
func FormatBool(b bool) string { return strconv.FormatBool(b) }
