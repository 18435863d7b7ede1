package fbstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bibsdb/bibselv/fbs"
)

// MetricsCollectorSpy records every metric emission for assertions.
type MetricsCollectorSpy struct {
	mu       sync.Mutex
	counters map[string]int
	values   map[string][]float64
}

// NewMetricsCollectorSpy creates an empty spy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{
		counters: make(map[string]int),
		values:   make(map[string][]float64),
	}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, _ time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[metricKey(metric, labels)]++
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[metricKey(metric, labels)]++
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[metricKey(metric, labels)] = append(s.values[metricKey(metric, labels)], value)
}

// CounterValue returns how often the metric was incremented with exactly the
// given labels.
func (s *MetricsCollectorSpy) CounterValue(metric string, labels map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[metricKey(metric, labels)]
}

// LastValue returns the most recently recorded gauge value, or ok=false when
// none was recorded.
func (s *MetricsCollectorSpy) LastValue(metric string, labels map[string]string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := s.values[metricKey(metric, labels)]
	if len(recorded) == 0 {
		return 0, false
	}

	return recorded[len(recorded)-1], true
}

func metricKey(metric string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	composed := metric
	for _, key := range keys {
		composed += fmt.Sprintf("|%s=%s", key, labels[key])
	}

	return composed
}

// LoggerSpy records log lines by level.
type LoggerSpy struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one recorded log line.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// NewLoggerSpy creates an empty spy.
func NewLoggerSpy() *LoggerSpy {
	return &LoggerSpy{}
}

func (l *LoggerSpy) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *LoggerSpy) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *LoggerSpy) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *LoggerSpy) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *LoggerSpy) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Entries returns a copy of all recorded log lines.
func (l *LoggerSpy) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]LogEntry, len(l.entries))
	copy(copied, l.entries)

	return copied
}

// HasMessage reports whether a line with the given message was logged.
func (l *LoggerSpy) HasMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Msg == msg {
			return true
		}
	}

	return false
}

// ContextualLoggerSpy records context-aware log lines. It embeds a LoggerSpy
// so one spy can serve both logging interfaces; contextual lines additionally
// record whether a context was supplied.
type ContextualLoggerSpy struct {
	LoggerSpy

	mu         sync.Mutex
	contextual []LogEntry
}

// NewContextualLoggerSpy creates an empty spy.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{}
}

func (l *ContextualLoggerSpy) DebugContext(_ context.Context, msg string, args ...any) {
	l.recordContextual("debug", msg, args)
}

func (l *ContextualLoggerSpy) InfoContext(_ context.Context, msg string, args ...any) {
	l.recordContextual("info", msg, args)
}

func (l *ContextualLoggerSpy) WarnContext(_ context.Context, msg string, args ...any) {
	l.recordContextual("warn", msg, args)
}

func (l *ContextualLoggerSpy) ErrorContext(_ context.Context, msg string, args ...any) {
	l.recordContextual("error", msg, args)
}

func (l *ContextualLoggerSpy) recordContextual(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.contextual = append(l.contextual, LogEntry{Level: level, Msg: msg, Args: args})
}

// ContextualEntries returns a copy of all context-aware log lines.
func (l *ContextualLoggerSpy) ContextualEntries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]LogEntry, len(l.contextual))
	copy(copied, l.contextual)

	return copied
}

// HasContextualMessage reports whether a context-aware line with the given
// message was logged.
func (l *ContextualLoggerSpy) HasContextualMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.contextual {
		if entry.Msg == msg {
			return true
		}
	}

	return false
}

// ActionReporterSpy records facade operation outcome notifications.
type ActionReporterSpy struct {
	mu      sync.Mutex
	actions []ReportedAction
}

// ReportedAction is one recorded operation outcome.
type ReportedAction struct {
	Operation string
	Failed    bool
}

// NewActionReporterSpy creates an empty spy.
func NewActionReporterSpy() *ActionReporterSpy {
	return &ActionReporterSpy{}
}

func (s *ActionReporterSpy) ReportAction(operation string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = append(s.actions, ReportedAction{Operation: operation, Failed: failed})
}

// Actions returns a copy of all recorded outcomes.
func (s *ActionReporterSpy) Actions() []ReportedAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]ReportedAction, len(s.actions))
	copy(copied, s.actions)

	return copied
}

// TracingCollectorSpy records started and finished spans for assertions.
type TracingCollectorSpy struct {
	mu    sync.Mutex
	spans []*SpanSpy
}

// SpanSpy is one recorded span.
type SpanSpy struct {
	Name       string
	Attributes map[string]string
	Status     string
	Finished   bool
}

// SetStatus implements fbs.SpanContext.
func (s *SpanSpy) SetStatus(status string) { s.Status = status }

// AddAttribute implements fbs.SpanContext.
func (s *SpanSpy) AddAttribute(key, value string) { s.Attributes[key] = value }

// NewTracingCollectorSpy creates an empty spy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

func (t *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, fbs.SpanContext) {
	t.mu.Lock()
	defer t.mu.Unlock()

	span := &SpanSpy{Name: name, Attributes: make(map[string]string, len(attrs))}
	for key, value := range attrs {
		span.Attributes[key] = value
	}

	t.spans = append(t.spans, span)

	return ctx, span
}

func (t *TracingCollectorSpy) FinishSpan(spanCtx fbs.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*SpanSpy)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, value := range attrs {
		span.Attributes[key] = value
	}

	span.Status = status
	span.Finished = true
}

// Spans returns all recorded spans.
func (t *TracingCollectorSpy) Spans() []*SpanSpy {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := make([]*SpanSpy, len(t.spans))
	copy(copied, t.spans)

	return copied
}
