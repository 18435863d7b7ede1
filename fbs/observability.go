package fbs

import (
	"context"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting facade and monitor metrics.
// Implementations must be non-blocking; every emission is fire-and-forget
// and is never awaited by the result path.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualLogger interface for context-aware logging with automatic trace
// correlation. It follows the same dependency-free pattern as
// MetricsCollector, allowing integration with any logging backend that
// supports context-based correlation.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// SpanContext represents an active tracing span that can be finished and
// updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information
// from facade operations. It follows the same dependency-free pattern as
// MetricsCollector, allowing integration with any tracing backend
// (OpenTelemetry, Jaeger, Zipkin, ...) by implementing this interface.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// ActionReporter receives one notification per facade operation, reporting
// the operation name and whether it failed. It exists so that callers which
// are not metrics backends (the correlation bus, for instance) can observe
// call outcomes. Implementations must not block.
type ActionReporter interface {
	ReportAction(operation string, failed bool)
}

const (
	// ActionResultMetric counts facade operations by name and outcome.
	// Labels: operation, failed ("true"/"false").
	ActionResultMetric = "fbs_action_result_total"

	// ActionDurationMetric is a histogram of transport round-trip durations
	// per facade operation. Labels: operation, failed ("true"/"false").
	ActionDurationMetric = "fbs_action_duration_seconds"

	// OnlineStatusMetric is a gauge carrying the published online signal
	// (1 online, 0 offline), updated after every monitor poll.
	OnlineStatusMetric = "fbs_online_status"

	// OfflineQueuedMetric counts transactions accepted by the offline
	// fallback. Labels: action ("checkout"/"checkin").
	OfflineQueuedMetric = "fbs_offline_queued_total"
)
