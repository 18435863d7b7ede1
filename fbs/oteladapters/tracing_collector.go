package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bibsdb/bibselv/fbs"
)

// TracingCollector implements fbs.TracingCollector using the OpenTelemetry
// tracing API, creating one span per facade operation and propagating trace
// context through the operation's ctx.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a tracing collector from a tracer of your
// OpenTelemetry TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan creates a new span with the given name and attributes. It
// returns a context carrying the span and a SpanContext wrapper to finish
// it with.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, fbs.SpanContext) {
	spanOptions := make([]trace.SpanStartOption, 0, len(attrs))
	for key, value := range attrs {
		spanOptions = append(spanOptions, trace.WithAttributes(attribute.String(key, value)))
	}

	spanCtx, span := t.tracer.Start(ctx, name, spanOptions...)

	return spanCtx, &otelSpanContext{span: span}
}

// FinishSpan completes a span with the given status and final attributes.
func (t *TracingCollector) FinishSpan(spanCtx fbs.SpanContext, status string, attrs map[string]string) {
	otelCtx, ok := spanCtx.(*otelSpanContext)
	if !ok {
		return
	}

	for key, value := range attrs {
		otelCtx.span.SetAttributes(attribute.String(key, value))
	}

	otelCtx.setSpanStatus(status)
	otelCtx.span.End()
}

// otelSpanContext implements fbs.SpanContext by wrapping an OpenTelemetry
// span.
type otelSpanContext struct {
	span trace.Span
}

// SetStatus sets the span status based on the provided status string.
func (s *otelSpanContext) SetStatus(status string) {
	s.setSpanStatus(status)
}

// AddAttribute adds a string attribute to the span.
func (s *otelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

func (s *otelSpanContext) setSpanStatus(status string) {
	switch status {
	case "ok", "success", "completed":
		s.span.SetStatus(codes.Ok, "")
	case "error", "failed", "failure":
		s.span.SetStatus(codes.Error, "operation failed")
	case "cancelled", "canceled":
		s.span.SetStatus(codes.Error, "operation cancelled")
	case "timeout":
		s.span.SetStatus(codes.Error, "operation timed out")
	default:
		s.span.SetStatus(codes.Unset, "")
	}
}

var _ fbs.TracingCollector = (*TracingCollector)(nil)
