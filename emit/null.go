package emit

import "context"

// NullEmitter discards every event. Useful as a zero-overhead default.
type NullEmitter struct{}

// NewNullEmitter creates a ready-to-use NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
