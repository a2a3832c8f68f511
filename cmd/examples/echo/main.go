// Command echo is scenario 1 of the concrete scenarios: a single
// executor that accepts a string and yields it back unchanged.
//
// Expected event sequence for input "hi": executor_invoked, workflow_output,
// executor_completed, superstep_complete(1), then the run terminates.
// Supersteps are numbered from 1.
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

const typeString typeid.ID = "echo.String"

func main() {
	fmt.Println("Echo")
	fmt.Println("====")

	registry := typeid.NewScoped()
	if err := registry.Register(typeString, ""); err != nil {
		log.Fatalf("register type: %v", err)
	}

	echo := &executor.Func{
		IDValue: "E",
		Proto:   executor.NewProtocol([]typeid.ID{typeString}, nil, []typeid.ID{typeString}, false),
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			if err := wc.YieldOutput(env.Payload, typeString); err != nil {
				return router.CallResult{Kind: router.ResultFailure, Err: err}
			}
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}

	wf, err := scheduler.NewBuilder(registry).
		AddExecutor(executor.Registration{ID: "E", Kind: executor.KindInstance, RawValue: echo}).
		SetStart("E").
		Build()
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	emitter := emit.NewBufferedEmitter()
	s := scheduler.New(wf, scheduler.WithEmitter(emitter))

	res, err := s.Run(context.Background(), "run-echo", "hi", typeString)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	fmt.Printf("yields: %v\n", res.Yields)
	fmt.Println("events:")
	for _, ev := range emitter.History("run-echo") {
		fmt.Printf("  step %d %s %s\n", ev.Step, ev.ExecutorID, ev.Kind)
	}
}
