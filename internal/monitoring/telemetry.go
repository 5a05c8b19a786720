// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker appends one SimplifyEvent per line, immediately after each
// simplify request, so the file can be tailed while the daemon runs.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config  TelemetryConfig
	logPath string
	count   int
	mu      sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	t.logPath = cfg.LogPath

	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordSimplify records a simplify event.
func (t *Tracker) RecordSimplify(event *SimplifyEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		log.Info().
			Str("request_id", event.RequestID).
			Str("mode", event.Mode).
			Bool("success", event.Success).
			Int64("latency_ms", event.LatencyMs).
			Msg("telemetry")
	}

	if t.logPath != "" {
		if err := appendJSONL(t.logPath, event); err != nil {
			log.Error().Err(err).Str("path", t.logPath).Msg("telemetry: failed to write simplify event")
		} else {
			t.count++
		}
	}
}

// Close logs a session summary.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.logPath != "" && t.count > 0 {
		log.Info().
			Str("path", t.logPath).
			Int("events", t.count).
			Msg("telemetry: session complete")
	}
	return nil
}
