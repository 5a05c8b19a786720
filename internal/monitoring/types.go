// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - SimplifyEvent: Telemetry data for each simplify request
//   - Config types:  TelemetryConfig, LoggerConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// SimplifyEvent captures one simplify request through the router.
type SimplifyEvent struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	Mode          string    `json:"mode"`
	Length        string    `json:"length"`
	Language      string    `json:"language"`
	SelectedWords int       `json:"selected_words"`
	WordCeiling   int       `json:"word_ceiling"`
	Success       bool      `json:"success"`
	Disabled      bool      `json:"disabled,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
	StatusCode    int       `json:"status_code,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	PromptTokens  int       `json:"prompt_tokens,omitempty"`
	OutputTokens  int       `json:"output_tokens,omitempty"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}
