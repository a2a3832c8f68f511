// Command requestresponse is scenario 4 of the concrete scenarios: a
// handler suspends on requestExternal, an external answerer resolves it,
// and the handler resumes and yields the response.
//
// Handler invokes requestExternal("askUser", q). Expected: an
// external_request event carrying requestId=r is emitted, the handler
// suspends, and after sendResponse({requestId: r, payload: "ok"}) it
// resumes and yields "ok".
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dshills/workflow-core/emit"
	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
)

const (
	typeQuestion typeid.ID = "requestresponse.Question"
	typeAnswer   typeid.ID = "requestresponse.Answer"
)

// asker answers a user's question by suspending on the "askUser" port.
var asker = &executor.Func{
	IDValue: "Asker",
	Proto:   executor.NewProtocol([]typeid.ID{typeQuestion}, nil, []typeid.ID{typeAnswer}, false),
	HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
		answer, err := wc.RequestExternal("askUser", env.Payload, typeAnswer)
		if err != nil {
			return router.CallResult{Kind: router.ResultFailure, Err: err}
		}
		if err := wc.YieldOutput(answer, typeAnswer); err != nil {
			return router.CallResult{Kind: router.ResultFailure, Err: err}
		}
		return router.CallResult{Kind: router.ResultSuccess}
	},
}

// answeringEmitter resolves every "askUser" external_request it observes
// with a fixed reply, standing in for a human or external system that
// would otherwise call sendResponse out of band.
type answeringEmitter struct {
	s *scheduler.Scheduler
}

func (a *answeringEmitter) Emit(ev emit.Event) {
	fmt.Printf("  event: step=%d executor=%s kind=%s\n", ev.Step, ev.ExecutorID, ev.Kind)
	if ev.Kind != "external_request" {
		return
	}
	if port, _ := ev.Meta["port"].(string); port != "askUser" {
		return
	}
	reqID, _ := ev.Meta["requestId"].(string)
	go func() {
		if err := a.s.ResolveRequest(ev.RunID, reqID, "ok", nil); err != nil {
			log.Printf("resolve %s: %v", reqID, err)
		}
	}()
}

func (a *answeringEmitter) EmitBatch(context.Context, []emit.Event) error { return nil }
func (a *answeringEmitter) Flush(context.Context) error                  { return nil }

func main() {
	fmt.Println("Request/response")
	fmt.Println("=================")

	registry := typeid.NewScoped()
	for _, t := range []typeid.ID{typeQuestion, typeAnswer} {
		if err := registry.Register(t, ""); err != nil {
			log.Fatalf("register type %s: %v", t, err)
		}
	}

	wf, err := scheduler.NewBuilder(registry).
		AddExecutor(executor.Registration{ID: "Asker", Kind: executor.KindInstance, RawValue: asker}).
		SetStart("Asker").
		Build()
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	answerer := &answeringEmitter{}
	s := scheduler.New(wf, scheduler.WithEmitter(answerer))
	answerer.s = s

	res, err := s.Run(context.Background(), "run-requestresponse", "what's 2+2?", typeQuestion)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	fmt.Printf("yields: %v\n", res.Yields)
}
