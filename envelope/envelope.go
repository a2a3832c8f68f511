// Package envelope defines the message envelope that flows through the
// scheduler's deliveries and the router's dispatch.
package envelope

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/workflow-core/typeid"
)

// Envelope wraps a payload with the metadata the scheduler and router need
// to route and replay it deterministically (spec §3 Message envelope).
//
// DeclaredType is the static type at send time, not the concrete runtime
// type — this is what lets a handler table keyed on a supertype still
// match a message sent as one of its subtypes.
type Envelope struct {
	Payload          interface{}
	DeclaredType     typeid.ID
	SourceExecutorID string
	StepNumber       int
	TraceContext     trace.SpanContext
}

// New builds an Envelope for a fresh send. SourceExecutorID and StepNumber
// are filled in by the scheduler when the envelope is queued for delivery.
func New(payload interface{}, declared typeid.ID) Envelope {
	return Envelope{Payload: payload, DeclaredType: declared}
}

// WithSource returns a copy of e attributed to the given source executor
// and step, used by the scheduler when materializing a delivery.
func (e Envelope) WithSource(sourceExecutorID string, step int) Envelope {
	e.SourceExecutorID = sourceExecutorID
	e.StepNumber = step
	return e
}
