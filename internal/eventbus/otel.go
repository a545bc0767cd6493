package eventbus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/flowforge/internal/domain"
)

// OTelPublisher decorates every appended event as a span event on the
// current trace, for hosts that want tracing. It reads the tracer from
// the global otel provider, so it is safe to subscribe unconditionally:
// with no provider configured (the default), otel's built-in no-op
// tracer makes every call here free.
type OTelPublisher struct {
	tracer trace.Tracer
}

// NewOTelPublisher builds a Publisher that records each event against
// tracerName's tracer from the process-wide otel TracerProvider.
func NewOTelPublisher(tracerName string) *OTelPublisher {
	return &OTelPublisher{tracer: otel.Tracer(tracerName)}
}

// Publish implements Publisher by adding a span event named by the
// event's type, carrying run/node/seq identifiers as attributes, onto
// whatever span is current in ctx.
func (p *OTelPublisher) Publish(ctx context.Context, event domain.Event) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.String("flowforge.run_id", event.RunID),
		attribute.Int64("flowforge.seq", event.Seq),
		attribute.String("flowforge.event_type", string(event.Type)),
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("flowforge.node_id", event.NodeID))
	}
	span.AddEvent(string(event.Type), trace.WithAttributes(attrs...))
}
