// Monitoring configuration - telemetry and logging settings.
//
// DESIGN: Separates logging (zerolog) from telemetry (JSONL files).
// Logging is for operators, telemetry records one event per simplify call.
package config

import (
	"fmt"
	"time"
)

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Telemetry settings
	TelemetryEnabled bool   `yaml:"telemetry_enabled"` // Record simplify events
	TelemetryPath    string `yaml:"telemetry_path"`    // Path to telemetry JSONL file
	LogToStdout      bool   `yaml:"log_to_stdout"`     // Also log telemetry summaries

	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"` // Warn above this completion latency
}

// Validate checks monitoring settings.
func (m *MonitoringConfig) Validate() error {
	switch m.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %q (must be json or console)", m.LogFormat)
	}
	if m.TelemetryEnabled && m.TelemetryPath == "" {
		return fmt.Errorf("monitoring.telemetry_path is required when telemetry is enabled")
	}
	return nil
}
