// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:        Warn when a completion exceeds threshold
//   - FlagUpstreamError:      Warn on completion endpoint 4xx/5xx
//   - FlagUpstreamTimeout:    Error when the completion deadline fires
//   - FlagInvalidRequest:     Debug on rejected adapter requests
//   - FlagPanic:              Error on recovered panics
package monitoring

import "time"

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = 10 * time.Second
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when completion latency exceeds threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, model string) {
	if latency < am.highLatencyThreshold {
		return
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("model", model).
		Msg("high_latency")
}

// FlagUpstreamError logs a completion endpoint error.
func (am *AlertManager) FlagUpstreamError(requestID string, statusCode int, errorMsg string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Int("status", statusCode).
		Str("error", errorMsg).
		Msg("upstream_error")
}

// FlagUpstreamTimeout logs a completion call that hit its deadline.
func (am *AlertManager) FlagUpstreamTimeout(requestID string, timeout time.Duration) {
	am.logger.Error().
		Str("request_id", requestID).
		Dur("timeout", timeout).
		Msg("upstream_timeout")
}

// FlagInvalidRequest logs an adapter request the router rejected.
func (am *AlertManager) FlagInvalidRequest(requestID, kind, reason string) {
	am.logger.Debug().
		Str("request_id", requestID).
		Str("kind", kind).
		Str("reason", reason).
		Msg("invalid_request")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}
