// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/rejected:     Router requests and how many replied success=false
//   - simplifications:       Successful completions
//   - completion_failures:   Upstream, transport and timeout failures
//   - notifications_*:       Best-effort pushes delivered or dropped
package monitoring

import (
	"sync/atomic"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	requests             atomic.Int64
	rejected             atomic.Int64
	simplifications      atomic.Int64
	completionFailures   atomic.Int64
	notificationsSent    atomic.Int64
	notificationsDropped atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records a router request and whether it succeeded.
func (mc *MetricsCollector) RecordRequest(success bool) {
	mc.requests.Add(1)
	if !success {
		mc.rejected.Add(1)
	}
}

// RecordSimplification records a successful completion.
func (mc *MetricsCollector) RecordSimplification() { mc.simplifications.Add(1) }

// RecordCompletionFailure records a failed completion call.
func (mc *MetricsCollector) RecordCompletionFailure() { mc.completionFailures.Add(1) }

// RecordNotification records a push to one subscriber.
func (mc *MetricsCollector) RecordNotification(delivered bool) {
	if delivered {
		mc.notificationsSent.Add(1)
		return
	}
	mc.notificationsDropped.Add(1)
}

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":              mc.requests.Load(),
		"rejected":              mc.rejected.Load(),
		"simplifications":       mc.simplifications.Load(),
		"completion_failures":   mc.completionFailures.Load(),
		"notifications_sent":    mc.notificationsSent.Load(),
		"notifications_dropped": mc.notificationsDropped.Load(),
	}
}
