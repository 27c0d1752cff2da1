package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/jarvis"

// Span names and attribute keys for conversational turns.
const (
	SpanTurn = "pipeline.turn"

	AttrTurnID     = attribute.Key("turn.id")
	AttrTurnOK     = attribute.Key("turn.ok")
	AttrTurnReason = attribute.Key("turn.reason")
	AttrStage      = attribute.Key("turn.stage")
)

type turnIDKey struct{}

// Tracer returns the Jarvis tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTurn opens the root span of one turn and stores id in the returned
// context so [Logger] tags every line with it.
func StartTurn(ctx context.Context, id string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, turnIDKey{}, id)
	return Tracer().Start(ctx, SpanTurn, trace.WithAttributes(AttrTurnID.String(id)))
}

// EndTurn records the outcome of a turn and ends span. A failed turn marks
// the span as an error with reason as its description.
func EndTurn(span trace.Span, ok bool, reason string, err error) {
	span.SetAttributes(AttrTurnOK.Bool(ok), AttrTurnReason.String(reason))
	if err != nil {
		span.RecordError(err)
	}
	if !ok {
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// StartStage opens a child span named "pipeline.<stage>".
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+stage, trace.WithAttributes(AttrStage.String(stage)))
}

// EndStage ends a stage span, recording err if non-nil.
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TurnID returns the turn ID stored by [StartTurn], or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// HTTP responses echo it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the turn ID and the trace
// and span IDs found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := TurnID(ctx); id != "" {
		l = l.With(slog.String("turn_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
