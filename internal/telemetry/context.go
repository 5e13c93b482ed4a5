package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by idled spans
const (
	SessionKey      = attribute.Key("idled.session")
	SeatKey         = attribute.Key("idled.seat")
	SubscriptionKey = attribute.Key("idled.subscription")
	RequestIDKey    = attribute.Key("idled.request_id")
	ErrorCodeKey    = attribute.Key("idled.error_code")
)

// StartSpan starts a span on the idled tracer. When the span is sampled the
// returned context carries the context logger tagged with its trace and span
// ids.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx, span := Tracer(ServiceName).Start(ctx, name, opts...)

	sc := span.SpanContext()
	if !sc.IsSampled() {
		return ctx, span
	}
	if logger := zerolog.Ctx(ctx); logger.GetLevel() != zerolog.Disabled {
		tagged := logger.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
		ctx = tagged.WithContext(ctx)
	}
	return ctx, span
}

// SpanFromContext returns the current span, a no-op span when there is none
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// MarkSpanError records err on the current span and sets its status
func MarkSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
