// Package external talks to the hosted chat-completion API.
//
// DESIGN: One provider, one call shape. The client never touches the settings
// store; everything it needs arrives in a CompletionRequest plus the API key.
//
// FILES:
//   - types.go:   CompletionRequest, CompletionResult, ChatMessage
//   - llm.go:     Client.Complete (HTTP call, response parsing)
//   - prompts.go: system and user instruction builders
//   - errors.go:  CompletionError and its kinds
//   - tokens.go:  optional tiktoken prompt estimate
package external

import (
	"github.com/searchx/searchx/internal/settings"
)

// CompletionRequest is built per simplify call from the current settings, the
// page context and the selection. It is never persisted.
type CompletionRequest struct {
	SelectedText string
	Mode         settings.Mode
	Length       settings.Length
	Language     settings.Language
	UserRole     string
	PageContext  settings.PageContext
}

// WordCeiling is the output word limit for this request.
func (r CompletionRequest) WordCeiling() int {
	return settings.WordCeiling(r.Length)
}

// CompletionResult contains the generated text and usage accounting.
type CompletionResult struct {
	Text         string
	Model        string
	WordCeiling  int
	MaxTokens    int
	PromptTokens int // reported by the endpoint, else estimated when enabled
	OutputTokens int
}

// ChatMessage is one entry of the chat-completions messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
