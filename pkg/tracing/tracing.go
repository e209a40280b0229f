// Package tracing holds the process-wide OpenTelemetry tracer and small
// helpers for reading W3C trace context off a request context.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer installs the tracer used by StartSpan. Call once during boot,
// before any traffic is served.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan opens a child span under the span carried by ctx. When no tracer
// has been installed (tests, CLI tools) it returns ctx unchanged with the
// existing no-op span, so callers can defer span.End() unconditionally.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name)
}

// activeSpan returns the span carried by ctx, or nil when ctx holds no valid
// span context.
func activeSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span
	}
	return nil
}

// GetTraceID returns the hex trace id for the active span, or "".
func GetTraceID(ctx context.Context) string {
	span := activeSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetTraceParent renders the active span as a W3C traceparent header value.
func GetTraceParent(ctx context.Context) string {
	return injected(ctx, "traceparent")
}

// GetTraceState returns the W3C tracestate header value for the active span.
func GetTraceState(ctx context.Context) string {
	return injected(ctx, "tracestate")
}

func injected(ctx context.Context, key string) string {
	if activeSpan(ctx) == nil {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get(key)
}
