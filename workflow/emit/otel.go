package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by recording each event as an
// OpenTelemetry span.
//
// Each event becomes an instant span with:
//   - Span name: event.EventType (e.g. "step.started")
//   - Start and end time: event.Timestamp
//   - Attributes: event id, entity, org, actor, and every Metadata entry
//     under the "opsflow.meta." prefix
//   - Status: Error for "step.failed" and "run.failed"
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("opsflow"))
//	engine, _ := workflow.New(st, catalog, emitter)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	o.record(context.Background(), event)
}

// EmitBatch records several events under ctx, for trace propagation from a
// caller's span.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		o.record(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) record(ctx context.Context, event Event) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, span := o.tracer.Start(ctx, event.EventType, trace.WithTimestamp(ts))
	defer span.End(trace.WithTimestamp(ts))

	span.SetAttributes(
		attribute.String("opsflow.event_id", event.ID),
		attribute.String("opsflow.entity_type", event.EntityType),
		attribute.String("opsflow.entity_id", event.EntityID),
		attribute.String("opsflow.org_id", event.OrgID),
		attribute.String("opsflow.actor_id", event.ActorID),
	)
	addMetadataAttributes(span, event.Metadata)

	if event.EventType == "step.failed" || event.EventType == "run.failed" {
		msg := event.EventType
		if reason, ok := event.Metadata["reason"].(string); ok && reason != "" {
			msg = reason
		}
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

// Flush forces export of buffered spans when the global provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "opsflow.meta." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
