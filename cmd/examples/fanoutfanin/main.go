// Command fanoutfanin is scenario 2 of the concrete scenarios: S fans out
// to A and B, whose outputs fan back into J in source-declared order.
//
// S -> {A, B} -> J. Input 1. Expected deliveries (supersteps are numbered
// from 1): step 1 S emits 1; step 2 A(1) and B(1) produce "a" and "b";
// step 3 J(["a","b"]).
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

const (
	typeInt    typeid.ID = "fanoutfanin.Int"
	typeLetter typeid.ID = "fanoutfanin.Letter"
	typeJoined typeid.ID = "fanoutfanin.Joined"
)

// source forwards its input unchanged through its outgoing fan-out edge.
func source(id string) *executor.Func {
	return &executor.Func{
		IDValue: id,
		Proto:   executor.NewProtocol([]typeid.ID{typeInt}, []typeid.ID{typeInt}, nil, false),
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			wc.SendMessage(env.Payload, "", typeInt)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
}

// letter sends back the given letter for whatever it receives.
func letter(id, out string) *executor.Func {
	return &executor.Func{
		IDValue: id,
		Proto:   executor.NewProtocol([]typeid.ID{typeInt}, []typeid.ID{typeLetter}, nil, false),
		HandleFn: func(_ context.Context, _ envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			wc.SendMessage(out, "", typeLetter)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
}

// join yields the fan-in payload it is handed: a slice ordered to match
// the fan-in edge's declared source order (A, B), the shape applyFanIn
// builds. It accepts any declared type because a fan-in delivery carries
// whichever type the last contributing send declared, not a new "joined"
// type.
var join = &executor.Func{
	IDValue: "J",
	Proto:   executor.Protocol{AcceptsAll: true, Yields: map[typeid.ID]bool{typeJoined: true}},
	HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
		if err := wc.YieldOutput(env.Payload, typeJoined); err != nil {
			return router.CallResult{Kind: router.ResultFailure, Err: err}
		}
		return router.CallResult{Kind: router.ResultSuccess}
	},
}

func main() {
	fmt.Println("Fan-out then fan-in")
	fmt.Println("====================")

	registry := typeid.NewScoped()
	for _, t := range []typeid.ID{typeInt, typeLetter, typeJoined} {
		if err := registry.Register(t, ""); err != nil {
			log.Fatalf("register type %s: %v", t, err)
		}
	}

	wf, err := scheduler.NewBuilder(registry).
		AddExecutor(executor.Registration{ID: "S", Kind: executor.KindInstance, RawValue: source("S")}).
		AddExecutor(executor.Registration{ID: "A", Kind: executor.KindInstance, RawValue: letter("A", "a")}).
		AddExecutor(executor.Registration{ID: "B", Kind: executor.KindInstance, RawValue: letter("B", "b")}).
		AddExecutor(executor.Registration{ID: "J", Kind: executor.KindInstance, RawValue: join}).
		AddEdge(wfedge.FanOut("S", wfedge.SaturationAll,
			wfedge.FanOutTarget{To: "A"},
			wfedge.FanOutTarget{To: "B"},
		)).
		AddEdge(wfedge.FanIn("J", nil, "A", "B")).
		SetStart("S").
		Build()
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	s := scheduler.New(wf)
	res, err := s.Run(context.Background(), "run-fanoutfanin", 1, typeInt)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	for _, y := range res.Yields {
		joined, ok := y.([]interface{})
		if !ok {
			fmt.Printf("unexpected yield: %+v\n", y)
			continue
		}
		fmt.Printf("  %v\n", joined)
	}
}
