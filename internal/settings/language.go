package settings

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is a lowercase BCP 47 base-language code.
type Language string

// LanguageEnglish is the first-run output language.
const LanguageEnglish Language = "en"

// Languages offered by the extension's language picker.
var Languages = []Language{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "zh", "ar", "hi", "nl"}

// ParseLanguage normalizes a tag ("FR" -> "fr") and rejects anything outside
// the supported list. Regional variants such as "fr-CA" are rejected rather than
// mapped onto their base language.
func ParseLanguage(s string) (Language, error) {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("unknown language %q: %w", s, err)
	}
	l := Language(strings.ToLower(tag.String()))
	if !lo.Contains(Languages, l) {
		return "", fmt.Errorf("unsupported language %q (expected one of %s)", s, joinNames(Languages))
	}
	return l, nil
}

// Name returns the English display name used in prompts ("fr" -> "French").
func (l Language) Name() string {
	tag, err := language.Parse(string(l))
	if err != nil {
		return string(l)
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return string(l)
}
