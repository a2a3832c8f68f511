package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into immediately-ended spans, one per event.
// Appropriate for point-in-time events rather than durations.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using tracer (e.g. otel.Tracer("workflow-core")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Kind)
	defer span.End()
	o.annotate(span, event)
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Kind)
		o.annotate(span, event)
		span.End()
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.Int("step", event.Step),
		attribute.String("executor_id", event.ExecutorID),
	)
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// Flush is a no-op here; callers should ForceFlush their own
// TracerProvider/SpanProcessor at shutdown.
func (o *OTelEmitter) Flush(context.Context) error { return nil }
