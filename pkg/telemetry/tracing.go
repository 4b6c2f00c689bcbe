package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "remoteviz"

// Tracer creates spans for session lifecycles. The zero value and nil
// use the global OpenTelemetry tracer provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer from the given provider. A nil provider uses
// the global one, so configure it in main() before starting sessions.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(defaultTracerName)}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer(defaultTracerName)
	}
	return t.tracer
}

// StartSession starts the span covering a whole session.
func (t *Tracer) StartSession(ctx context.Context, role, sessionID string) (context.Context, trace.Span) {
	return t.get().Start(ctx, "remoteviz."+role,
		trace.WithSpanKind(spanKind(role)),
		trace.WithAttributes(
			attribute.String("remoteviz.session_id", sessionID),
			attribute.String("remoteviz.role", role),
		),
	)
}

// StartHandshake starts the span covering the metadata exchange.
func (t *Tracer) StartHandshake(ctx context.Context) (context.Context, trace.Span) {
	return t.get().Start(ctx, "remoteviz.handshake")
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func spanKind(role string) trace.SpanKind {
	if role == RoleWorker {
		return trace.SpanKindServer
	}
	return trace.SpanKindClient
}
