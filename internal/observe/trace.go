package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/bubbletalk"

// Span names.
const (
	SpanConversation = "conversation"
	SpanLine         = "conversation.line"
)

// Attribute keys shared by spans and logs.
const (
	AttrSpeaker        = attribute.Key("bubbletalk.speaker")
	AttrConversationID = attribute.Key("bubbletalk.conversation_id")
	AttrLineID         = attribute.Key("bubbletalk.line_id")
	AttrCondition      = attribute.Key("bubbletalk.line.condition")
	AttrReason         = attribute.Key("bubbletalk.end_reason")
	AttrSteps          = attribute.Key("bubbletalk.steps")
	AttrSkipped        = attribute.Key("bubbletalk.reveal.skipped")
	AttrLeaveDiverted  = attribute.Key("bubbletalk.leave_diverted")
)

// Tracer returns the bubbletalk tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartConversationSpan starts the root span of one conversation.
func StartConversationSpan(ctx context.Context, speaker, conversationID string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanConversation, trace.WithAttributes(
		AttrSpeaker.String(speaker),
		AttrConversationID.String(conversationID),
	))
}

// EndConversationSpan records how the conversation ended and ends span.
// Graph and data errors mark the span as failed; cancellation does not.
func EndConversationSpan(span trace.Span, reason string, steps int, leaveDiverted bool, err error) {
	span.SetAttributes(
		AttrReason.String(reason),
		AttrSteps.Int(steps),
		AttrLeaveDiverted.Bool(leaveDiverted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// StartLineSpan starts the span covering one line's settle and reveal.
func StartLineSpan(ctx context.Context, lineID, condition string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrLineID.String(lineID)}
	if condition != "" {
		attrs = append(attrs, AttrCondition.String(condition))
	}
	return StartSpan(ctx, SpanLine, trace.WithAttributes(attrs...))
}

// RecordReveal annotates a line span with the reveal result.
func RecordReveal(span trace.Span, steps int, skipped bool) {
	span.SetAttributes(AttrSteps.Int(steps), AttrSkipped.Bool(skipped))
	if skipped {
		span.AddEvent("reveal skipped")
	}
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns base enriched with trace_id and span_id from the span in
// ctx. A nil base means slog.Default(). Without an active span base is
// returned as is.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
