package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/workflow-core/checkpoint/memstore"
	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

const typeText typeid.ID = "runtime_test.Text"

func newRegistry(t *testing.T) *typeid.Registry {
	t.Helper()
	reg := typeid.NewScoped()
	if err := reg.Register(typeText, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func linearWorkflow(t *testing.T) *scheduler.Workflow {
	t.Helper()
	reg := newRegistry(t)
	a := &executor.Func{
		IDValue: "a",
		Proto:   executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Sends: map[typeid.ID]bool{typeText: true}},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			s, _ := env.Payload.(string)
			wc.SendMessage(s+"-a", "b", typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	b := &executor.Func{
		IDValue: "b",
		Proto:   executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Yields: map[typeid.ID]bool{typeText: true}},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			s, _ := env.Payload.(string)
			_ = wc.YieldOutput(s+"-b", typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	wf, err := scheduler.NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "a", Kind: executor.KindInstance, RawValue: a}).
		AddExecutor(executor.Registration{ID: "b", Kind: executor.KindInstance, RawValue: b}).
		AddEdge(wfedge.Direct("a", "b")).
		SetStart("a").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return wf
}

func TestRuntimeRunDrivesToCompletionAndReturnsEvents(t *testing.T) {
	rt := Open(linearWorkflow(t))
	res, events, err := rt.Run(context.Background(), "run-1", "x", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "x-a-b" {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}
	if len(events) == 0 {
		t.Fatalf("expected recorded events for the run")
	}
}

func TestRuntimeOpenRunAcceptsMultipleSendMessages(t *testing.T) {
	rt := Open(linearWorkflow(t))
	run := rt.OpenRun("run-2")

	ctx := context.Background()
	if err := run.SendMessage(ctx, "one", typeText); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if err := run.SendMessage(ctx, "two", typeText); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	// Cancel ends the loop without draining queued input, so let both
	// messages run to their yields first.
	deadline := time.Now().Add(2 * time.Second)
	for len(run.sess.Yields()) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	run.Cancel()

	yields, err := run.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(yields) != 2 {
		t.Fatalf("expected 2 yields from 2 injected messages, got %+v", yields)
	}
}

func TestRuntimeStreamEmitsEventsLive(t *testing.T) {
	rt := Open(linearWorkflow(t))
	run, err := rt.Stream(context.Background(), "run-3", "y", typeText)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	seenYield := false
	deadline := time.After(2 * time.Second)
	for !seenYield {
		select {
		case ev := <-run.Events():
			if ev.Kind == "workflow_output" {
				seenYield = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a workflow_output event")
		}
	}
	run.Cancel()
}

func TestRuntimeRequestResponseViaSendResponse(t *testing.T) {
	reg := newRegistry(t)
	waiter := &executor.Func{
		IDValue: "waiter",
		Proto:   executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Yields: map[typeid.ID]bool{typeText: true}},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			resp, err := wc.RequestExternal("approval", env.Payload, typeText)
			if err != nil {
				return router.CallResult{Kind: router.ResultFailure, Err: err}
			}
			s, _ := resp.(string)
			_ = wc.YieldOutput(s, typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	wf, err := scheduler.NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "waiter", Kind: executor.KindInstance, RawValue: waiter}).
		SetStart("waiter").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rt := Open(wf)
	run := rt.OpenRun("run-req")
	if err := run.SendMessage(context.Background(), "ping", typeText); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ids := rt.sched.PendingRequestIDs("run-req")
		if len(ids) > 0 {
			if err := run.SendResponse(ids[0], "approved", nil); err != nil {
				t.Fatalf("send response: %v", err)
			}
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	// The resumed handler yields on its own goroutine; wait for it before
	// cancelling, since Cancel does not wait for parked handlers.
	for len(run.sess.Yields()) < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	run.Cancel()

	yields, err := run.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(yields) != 1 || yields[0] != "approved" {
		t.Fatalf("unexpected yields: %+v", yields)
	}
}

func TestRuntimeResumeContinuesFromCheckpoint(t *testing.T) {
	store := memstore.New()
	rt := Open(linearWorkflow(t), WithCheckpointStore(store))

	run := rt.OpenRun("run-resume")
	if err := run.SendMessage(context.Background(), "x", typeText); err != nil {
		t.Fatalf("send: %v", err)
	}
	// The yield comes in step 2, after step 1's checkpoint was committed.
	deadline := time.Now().Add(2 * time.Second)
	for len(run.sess.Yields()) < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	run.Cancel()
	if _, err := run.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	checkpoints, err := rt.CurrentCheckpoints(context.Background(), "run-resume")
	if err != nil {
		t.Fatalf("current checkpoints: %v", err)
	}
	if len(checkpoints) == 0 {
		t.Fatalf("expected at least one checkpoint")
	}

	last := checkpoints[0]
	for _, info := range checkpoints {
		if info.Step >= last.Step {
			last = info
		}
	}

	resumed, err := rt.Resume(context.Background(), "run-resume", last.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed.Cancel()
	if _, err := resumed.Wait(); err != nil {
		t.Fatalf("resumed wait: %v", err)
	}
}

