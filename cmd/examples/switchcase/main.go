// Command switchcase is scenario 3 of the concrete scenarios: a
// switch-case edge routes to the first matching case, falling through to
// a default, or dropping the message if neither matches.
//
// S -> switch { p1 -> X; p2 -> Y; default -> Z }. With p1=false, p2=true,
// only Y receives a delivery.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

const typeScore typeid.ID = "switchcase.Score"

// source forwards the score it received through its outgoing switch edge.
var source = &executor.Func{
	IDValue: "S",
	Proto:   executor.NewProtocol([]typeid.ID{typeScore}, []typeid.ID{typeScore}, nil, false),
	HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
		wc.SendMessage(env.Payload, "", typeScore)
		return router.CallResult{Kind: router.ResultSuccess}
	},
}

// branch yields its own id, so the example can report which one actually fired.
func branch(id string) *executor.Func {
	return &executor.Func{
		IDValue: id,
		Proto:   executor.NewProtocol([]typeid.ID{typeScore}, nil, []typeid.ID{typeScore}, false),
		HandleFn: func(_ context.Context, _ envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			if err := wc.YieldOutput(id, typeScore); err != nil {
				return router.CallResult{Kind: router.ResultFailure, Err: err}
			}
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
}

func main() {
	fmt.Println("Switch-case")
	fmt.Println("===========")

	registry := typeid.NewScoped()
	if err := registry.Register(typeScore, ""); err != nil {
		log.Fatalf("register type: %v", err)
	}

	p1 := func(payload interface{}) bool { return payload.(int) < 0 }
	p2 := func(payload interface{}) bool { return payload.(int) >= 50 }

	wf, err := scheduler.NewBuilder(registry).
		AddExecutor(executor.Registration{ID: "S", Kind: executor.KindInstance, RawValue: source}).
		AddExecutor(executor.Registration{ID: "X", Kind: executor.KindInstance, RawValue: branch("X")}).
		AddExecutor(executor.Registration{ID: "Y", Kind: executor.KindInstance, RawValue: branch("Y")}).
		AddExecutor(executor.Registration{ID: "Z", Kind: executor.KindInstance, RawValue: branch("Z")}).
		AddSwitch("S", "Z",
			wfedge.Case{When: p1, To: "X"},
			wfedge.Case{When: p2, To: "Y"},
		).
		SetStart("S").
		Build()
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	s := scheduler.New(wf)
	res, err := s.Run(context.Background(), "run-switchcase", 75, typeScore)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	fmt.Printf("fired: %v (expected only Y)\n", res.Yields)
}
