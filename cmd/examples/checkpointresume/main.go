// Command checkpointresume is scenario 5 of the concrete scenarios: a
// checkpoint captured after step 1 of the fan-out/fan-in workflow is used
// to resume a fresh session that reproduces the same step-2 events.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dshills/workflow-core/checkpoint"
	"github.com/dshills/workflow-core/checkpoint/memstore"
	"github.com/dshills/workflow-core/emit"
	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

const (
	typeInt    typeid.ID = "checkpointresume.Int"
	typeLetter typeid.ID = "checkpointresume.Letter"
	typeJoined typeid.ID = "checkpointresume.Joined"
)

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

// join accepts any declared type because a fan-in delivery carries
// whichever type the last contributing send declared, not typeJoined.
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

func buildWorkflow(registry *typeid.Registry) (*scheduler.Workflow, error) {
	return scheduler.NewBuilder(registry).
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
}

// snapshotToStepSnapshot mirrors runtime.Runtime.Resume's field mapping
// from a checkpoint.Checkpoint to the scheduler.StepSnapshot Resume wants
// — duplicated here rather than imported, since runtime's session router
// keys checkpoints by a long-lived sessionID this example doesn't need.
func snapshotToStepSnapshot(cp checkpoint.Checkpoint) scheduler.StepSnapshot {
	snap := scheduler.StepSnapshot{
		RunID:   cp.RunID,
		Step:    cp.Step,
		System:  cp.SystemState,
		Session: cp.SessionState,
		Local:   cp.LocalState,
	}
	for _, p := range cp.Pending {
		snap.Pending = append(snap.Pending, scheduler.PendingItem{
			OrderKey:     p.OrderKey,
			TargetID:     p.TargetID,
			SourceID:     p.SourceID,
			DeclaredType: typeid.ID(p.DeclaredType),
			Payload:      p.Payload,
		})
	}
	for _, es := range cp.ExecutorStates {
		snap.ExecutorStates = append(snap.ExecutorStates, scheduler.ExecutorState{ExecutorID: es.ExecutorID, State: es.State})
	}
	return snap
}

func main() {
	fmt.Println("Checkpoint & resume")
	fmt.Println("===================")

	registry := typeid.NewScoped()
	for _, t := range []typeid.ID{typeInt, typeLetter, typeJoined} {
		if err := registry.Register(t, ""); err != nil {
			log.Fatalf("register type %s: %v", t, err)
		}
	}
	wf, err := buildWorkflow(registry)
	if err != nil {
		log.Fatalf("build workflow: %v", err)
	}

	store := memstore.New()
	mgr := checkpoint.NewManager(store, "session-1", "")
	emitter := emit.NewBufferedEmitter()
	s := scheduler.New(wf, scheduler.WithCheckpointer(mgr), scheduler.WithEmitter(emitter))

	ctx := context.Background()
	sess := s.Open("run-1")
	if err := sess.Inject(1, typeInt); err != nil {
		log.Fatalf("inject: %v", err)
	}
	if _, err := s.StepOnce(ctx, sess); err != nil { // step 1: S -> A, B
		log.Fatalf("step 1: %v", err)
	}

	index, err := store.RetrieveIndex(ctx, "session-1", nil)
	if err != nil || len(index) == 0 {
		log.Fatalf("retrieve checkpoint index: %v", err)
	}
	latest := index[len(index)-1]
	fmt.Printf("captured checkpoint %s after step %d\n", latest.ID, latest.Step)

	// The run is abandoned here, as if the process had crashed.
	fmt.Println("(run cancelled)")

	restored, err := checkpoint.Restore(ctx, store, "session-1", latest.ID)
	if err != nil {
		log.Fatalf("restore: %v", err)
	}

	resumedEmitter := emit.NewBufferedEmitter()
	resumedScheduler := scheduler.New(wf, scheduler.WithEmitter(resumedEmitter))
	resumedSess, err := resumedScheduler.Resume(ctx, snapshotToStepSnapshot(restored.Checkpoint))
	if err != nil {
		log.Fatalf("resume: %v", err)
	}
	if _, err := resumedScheduler.StepOnce(ctx, resumedSess); err != nil { // step 2: A, B run
		log.Fatalf("step 2: %v", err)
	}
	if _, err := resumedScheduler.StepOnce(ctx, resumedSess); err != nil { // step 3: J fires
		log.Fatalf("step 3: %v", err)
	}

	fmt.Printf("resumed yields: %v\n", resumedSess.Yields())
	fmt.Println("resumed step-2/step-3 events:")
	for _, ev := range resumedEmitter.History("run-1") {
		fmt.Printf("  %s %s\n", ev.ExecutorID, ev.Kind)
	}
}
