package agenthost

import (
	"context"
	"fmt"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
)

// Request is the payload an Executor built by New accepts: the
// conversation so far plus whatever tools the model may call.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response is the payload an Executor built by New produces.
type Response struct {
	ChatOut
}

// Config configures an Executor.
type Config struct {
	// AcceptType is the TypeId a Request must carry to reach this executor.
	AcceptType typeid.ID
	// OutputType is the TypeId a Response is declared under, both for the
	// protocol's Yields/Sends sets and for the envelope the scheduler
	// builds when SendTo is set.
	OutputType typeid.ID
	// SendTo, if non-empty, routes the Response directly to that executor
	// id instead of yielding it as workflow output.
	// Empty means yield-only, the common case for a terminal agent turn.
	SendTo string
}

// Executor adapts a ChatModel to the executor.Executor contract: it
// accepts a Request, calls the model once, and yields (or forwards) the
// Response. It carries no conversation memory of its own — the caller's
// graph is responsible for accumulating Messages across turns, the same
// way the teacher's model.ChatModel took the full history on every call.
type Executor struct {
	id    string
	model ChatModel
	cfg   Config
}

// New builds an Executor named id, calling model for every Request it
// accepts.
func New(id string, model ChatModel, cfg Config) *Executor {
	return &Executor{id: id, model: model, cfg: cfg}
}

// ID implements executor.Executor.
func (e *Executor) ID() string { return e.id }

// Protocol implements executor.Executor.
func (e *Executor) Protocol() executor.Protocol {
	return executor.NewProtocol(
		[]typeid.ID{e.cfg.AcceptType},
		[]typeid.ID{e.cfg.OutputType},
		[]typeid.ID{e.cfg.OutputType},
		false,
	)
}

// Initialize implements executor.Executor; agent hosts need no setup.
func (e *Executor) Initialize(context.Context, *wfcontext.Context) error { return nil }

// Handle implements executor.Executor: one synchronous model call per
// delivery.
func (e *Executor) Handle(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
	req, ok := env.Payload.(Request)
	if !ok {
		return router.CallResult{Kind: router.ResultFailure, Err: fmt.Errorf("agenthost: executor %q expected a Request payload, got %T", e.id, env.Payload)}
	}

	out, err := e.model.Chat(ctx, req.Messages, req.Tools)
	if err != nil {
		return router.CallResult{Kind: router.ResultFailure, Err: fmt.Errorf("agenthost: %q: %w", e.id, err)}
	}
	resp := Response{ChatOut: out}

	if e.cfg.SendTo != "" {
		wc.SendMessage(resp, e.cfg.SendTo, e.cfg.OutputType)
		return router.CallResult{Kind: router.ResultSuccess}
	}
	if err := wc.YieldOutput(resp, e.cfg.OutputType); err != nil {
		return router.CallResult{Kind: router.ResultFailure, Err: err}
	}
	return router.CallResult{Kind: router.ResultSuccess}
}
