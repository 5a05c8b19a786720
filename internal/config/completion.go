// Completion configuration - the hosted chat-completion endpoint.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// CompletionConfig describes how to reach the chat-completion API.
type CompletionConfig struct {
	Endpoint          string        `yaml:"endpoint"`            // Full chat-completions URL
	Model             string        `yaml:"model"`               // Model name sent upstream
	Temperature       float64       `yaml:"temperature"`         // Sampling temperature
	Timeout           time.Duration `yaml:"timeout"`             // Per-call deadline
	TokenMultiplier   int           `yaml:"token_multiplier"`    // max_tokens = word ceiling * multiplier
	MaxSelectionWords int           `yaml:"max_selection_words"` // Longer selections are rejected locally
	CountTokens       bool          `yaml:"count_tokens"`        // Estimate prompt tokens with tiktoken
}

// Validate checks the completion settings.
func (c *CompletionConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("completion.endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid completion.endpoint: %q", c.Endpoint)
	}
	if c.Model == "" {
		return fmt.Errorf("completion.model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("invalid completion.temperature: %v (must be 0-2)", c.Temperature)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("completion.timeout is required")
	}
	if c.TokenMultiplier <= 0 {
		return fmt.Errorf("completion.token_multiplier must be > 0")
	}
	if c.MaxSelectionWords < 0 {
		return fmt.Errorf("completion.max_selection_words must be >= 0")
	}
	return nil
}
