package external

import (
	"fmt"
	"strings"

	"github.com/searchx/searchx/internal/settings"
)

// LookupRefusal is returned verbatim by the model in lookup mode when the
// selection does not name an identifiable entity or concept.
const LookupRefusal = "I couldn't find a specific person, place, thing or concept to look up in the selected text."

// maxBackgroundChars caps the page background sent with each request. Only the
// page context is cut; the selection is always sent whole.
const maxBackgroundChars = 4000

// BuildSystemPrompt returns the system instruction for req.
func BuildSystemPrompt(req CompletionRequest) string {
	var b strings.Builder
	b.WriteString("You are SearchX, a reading assistant that helps people understand text they highlight on the web.\n\n")

	switch req.Mode {
	case settings.ModeSummarize:
		b.WriteString("Summarize the selected text. Stay neutral: keep the author's meaning, ")
		b.WriteString("add no opinions and no information that is not in the text.\n")
	case settings.ModeLookup:
		b.WriteString("Write a short encyclopedia-style entry about the person, place, organization, ")
		b.WriteString("event or concept named in the selected text. State only well-established facts.\n")
		fmt.Fprintf(&b, "If the selected text does not refer to an identifiable named entity or concept, reply with exactly this sentence and nothing else: %q\n", LookupRefusal)
	default:
		b.WriteString("Explain the selected text in plain language that is easier to understand than the original.\n")
		role := strings.TrimSpace(req.UserRole)
		if role == "" {
			role = "a general reader"
		}
		fmt.Fprintf(&b, "Tailor the explanation to %s.\n", role)
	}

	fmt.Fprintf(&b, "\nWrite the answer in %s.\n", req.Language.Name())
	fmt.Fprintf(&b, "Use at most %d words.\n", req.WordCeiling())
	b.WriteString("Use the page background only to resolve ambiguity; do not summarize the page.")
	return b.String()
}

// BuildUserPrompt returns the user instruction: the literal selection followed
// by the page title and paragraphs as background.
func BuildUserPrompt(req CompletionRequest) string {
	var b strings.Builder
	b.WriteString("Selected text:\n\"\"\"\n")
	b.WriteString(req.SelectedText)
	b.WriteString("\n\"\"\"\n")

	title := strings.TrimSpace(req.PageContext.Title)
	background := pageBackground(req.PageContext.Paragraphs)
	if title == "" && background == "" {
		return b.String()
	}

	b.WriteString("\nPage background:\n")
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if background != "" {
		b.WriteString(background)
		b.WriteString("\n")
	}
	return b.String()
}

func pageBackground(paragraphs []string) string {
	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		remaining := maxBackgroundChars - b.Len()
		if remaining <= 0 {
			break
		}
		if len(p) > remaining {
			p = truncateRunes(p, remaining)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// countWords counts whitespace-separated words.
func countWords(s string) int {
	return len(strings.Fields(s))
}
