package scheduler

import (
	"context"
	"testing"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

func TestSessionStepOnceDrivesOneSuperstepAtATime(t *testing.T) {
	wf := buildLinearWorkflow(t)
	s := New(wf)
	sess := s.Open("run-sess")
	if err := sess.Inject("start", typeText); err != nil {
		t.Fatalf("inject: %v", err)
	}

	progressed, err := s.StepOnce(context.Background(), sess)
	if err != nil || !progressed {
		t.Fatalf("expected first step to progress, got progressed=%v err=%v", progressed, err)
	}
	if sess.Quiescent() {
		t.Fatalf("expected session not yet quiescent after step 1")
	}
	if len(sess.Yields()) != 0 {
		t.Fatalf("expected no yields yet, got %+v", sess.Yields())
	}

	progressed, err = s.StepOnce(context.Background(), sess)
	if err != nil || !progressed {
		t.Fatalf("expected second step to progress, got progressed=%v err=%v", progressed, err)
	}
	if !sess.Quiescent() {
		t.Fatalf("expected session quiescent after step 2")
	}
	if len(sess.Yields()) != 1 || sess.Yields()[0] != "start-a-b" {
		t.Fatalf("unexpected yields: %+v", sess.Yields())
	}

	progressed, err = s.StepOnce(context.Background(), sess)
	if err != nil || progressed {
		t.Fatalf("expected no-op step on a quiescent session, got progressed=%v err=%v", progressed, err)
	}
}

// statefulExecutor records whatever state it's handed on restore, so a
// test can confirm Resume actually rehydrated it.
type statefulExecutor struct {
	id        string
	forwardTo string
	restored  string
}

func (e *statefulExecutor) ID() string { return e.id }
func (e *statefulExecutor) Protocol() executor.Protocol {
	return executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Sends: map[typeid.ID]bool{typeText: true}}
}
func (e *statefulExecutor) Initialize(context.Context, *wfcontext.Context) error { return nil }
func (e *statefulExecutor) Handle(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
	s, _ := env.Payload.(string)
	wc.SendMessage(s+"-"+e.restored, e.forwardTo, typeText)
	return router.CallResult{Kind: router.ResultSuccess}
}
func (e *statefulExecutor) OnCheckpointRestored(_ context.Context, state []byte) error {
	e.restored = string(state)
	return nil
}

func TestSchedulerResumeRestoresPendingWorkAndExecutorState(t *testing.T) {
	reg := newRegistry(t)
	a := &statefulExecutor{id: "a", forwardTo: ""}
	b := forwardExecutor("b", "", "", true)
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "a", Kind: executor.KindInstance, RawValue: a}).
		AddExecutor(executor.Registration{ID: "b", Kind: executor.KindInstance, RawValue: b}).
		AddEdge(wfedge.Direct("a", "b")).
		SetStart("a").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf)

	snap := StepSnapshot{
		RunID: "run-resumed",
		Step:  3,
		Pending: []PendingItem{
			{OrderKey: 1, TargetID: "a", Payload: "hi"},
		},
		ExecutorStates: []ExecutorState{
			{ExecutorID: "a", State: []byte("rehydrated")},
		},
	}
	sess, err := s.Resume(context.Background(), snap)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sess.Step() != 3 {
		t.Fatalf("expected resumed step counter 3, got %d", sess.Step())
	}

	progressed, err := s.StepOnce(context.Background(), sess)
	if err != nil || !progressed {
		t.Fatalf("expected progress, got progressed=%v err=%v", progressed, err)
	}
	progressed, err = s.StepOnce(context.Background(), sess)
	if err != nil || !progressed {
		t.Fatalf("expected progress, got progressed=%v err=%v", progressed, err)
	}
	if len(sess.Yields()) != 1 || sess.Yields()[0] != "hi-rehydrated" {
		t.Fatalf("unexpected yields: %+v", sess.Yields())
	}
}
