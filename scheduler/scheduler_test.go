package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

const typeText typeid.ID = "test.Text"

func newRegistry(t *testing.T) *typeid.Registry {
	t.Helper()
	reg := typeid.NewScoped()
	if err := reg.Register(typeText, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

// forwardExecutor appends suffix to its string input and either forwards
// the result to forwardTo (via the edge graph, if forwardTo is empty, or
// directly if set) or yields it.
func forwardExecutor(id, suffix, forwardTo string, yield bool) executor.Executor {
	return &executor.Func{
		IDValue: id,
		Proto: executor.Protocol{
			Accepts: map[typeid.ID]bool{typeText: true},
			Sends:   map[typeid.ID]bool{typeText: true},
			Yields:  map[typeid.ID]bool{typeText: true},
		},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			s, _ := env.Payload.(string)
			out := s + suffix
			if yield {
				_ = wc.YieldOutput(out, typeText)
				return router.CallResult{Kind: router.ResultSuccess}
			}
			wc.SendMessage(out, forwardTo, typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
}

func buildLinearWorkflow(t *testing.T) *Workflow {
	t.Helper()
	reg := newRegistry(t)
	b := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "a", Kind: executor.KindInstance, RawValue: forwardExecutor("a", "-a", "", false)}).
		AddExecutor(executor.Registration{ID: "b", Kind: executor.KindInstance, RawValue: forwardExecutor("b", "-b", "", true)}).
		AddEdge(wfedge.Direct("a", "b")).
		SetStart("a")
	wf, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return wf
}

func TestSchedulerRunsLinearChain(t *testing.T) {
	wf := buildLinearWorkflow(t)
	s := New(wf)
	res, err := s.Run(context.Background(), "run-1", "start", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "start-a-b" {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}
	if res.Steps != 2 {
		t.Fatalf("expected 2 supersteps, got %d", res.Steps)
	}
}

func TestSchedulerConditionalEdge(t *testing.T) {
	reg := newRegistry(t)
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "split", Kind: executor.KindInstance, RawValue: forwardExecutor("split", "", "", false)}).
		AddExecutor(executor.Registration{ID: "yes", Kind: executor.KindInstance, RawValue: forwardExecutor("yes", "-yes", "", true)}).
		AddExecutor(executor.Registration{ID: "no", Kind: executor.KindInstance, RawValue: forwardExecutor("no", "-no", "", true)}).
		AddEdge(wfedge.Conditional("split", "yes", func(p interface{}) bool { return p == "go" })).
		AddEdge(wfedge.Conditional("split", "no", func(p interface{}) bool { return p != "go" })).
		SetStart("split").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf)
	res, err := s.Run(context.Background(), "run-cond", "go", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "go-yes" {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}
}

func TestSchedulerFanOutFanIn(t *testing.T) {
	reg := newRegistry(t)
	merge := &executor.Func{
		IDValue: "merge",
		Proto: executor.Protocol{
			AcceptsAll: true,
			Yields:     map[typeid.ID]bool{typeText: true},
		},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			_ = wc.YieldOutput(env.Payload, typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "src", Kind: executor.KindInstance, RawValue: forwardExecutor("src", "", "", false)}).
		AddExecutor(executor.Registration{ID: "w1", Kind: executor.KindInstance, RawValue: forwardExecutor("w1", "-1", "", false)}).
		AddExecutor(executor.Registration{ID: "w2", Kind: executor.KindInstance, RawValue: forwardExecutor("w2", "-2", "", false)}).
		AddExecutor(executor.Registration{ID: "merge", Kind: executor.KindInstance, RawValue: merge}).
		AddEdge(wfedge.FanOut("src", wfedge.SaturationAnyMatching,
			wfedge.FanOutTarget{To: "w1"}, wfedge.FanOutTarget{To: "w2"})).
		AddEdge(wfedge.FanIn("merge", nil, "w1", "w2")).
		SetStart("src").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf)
	res, err := s.Run(context.Background(), "run-fanout", "x", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 {
		t.Fatalf("expected merge to yield once, got %+v", res.Yields)
	}
	merged, ok := res.Yields[0].([]interface{})
	if !ok || len(merged) != 2 || merged[0] != "x-1" || merged[1] != "x-2" {
		t.Fatalf("expected merge payload in source-declaration order [w1, w2], got %+v", res.Yields[0])
	}
}

// TestSchedulerAutosendAutoyield exercises spec §4.2's autosend/autoyield:
// a handler built with router.TypedCtxValue returns its value rather than
// calling SendMessage/YieldOutput directly, and the scheduler forwards it
// along the executor's single declared send/yield type.
func TestSchedulerAutosendAutoyield(t *testing.T) {
	reg := newRegistry(t)
	rt := router.New(reg)
	step1 := executor.RoutedFunc("step1", executor.Protocol{
		Accepts:  map[typeid.ID]bool{typeText: true},
		Sends:    map[typeid.ID]bool{typeText: true},
		Autosend: true,
	}, rt)
	if err := rt.Register(router.HandlerEntry{
		InputType: typeText,
		Handler: router.TypedCtxValue(func(s string, _ *wfcontext.Context) (string, error) {
			return s + "-1", nil
		}),
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	rt2 := router.New(reg)
	step2 := executor.RoutedFunc("step2", executor.Protocol{
		Accepts:   map[typeid.ID]bool{typeText: true},
		Yields:    map[typeid.ID]bool{typeText: true},
		Autoyield: true,
	}, rt2)
	if err := rt2.Register(router.HandlerEntry{
		InputType: typeText,
		Handler: router.TypedCtxValue(func(s string, _ *wfcontext.Context) (string, error) {
			return s + "-2", nil
		}),
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "step1", Kind: executor.KindInstance, RawValue: step1}).
		AddExecutor(executor.Registration{ID: "step2", Kind: executor.KindInstance, RawValue: step2}).
		AddEdge(wfedge.Direct("step1", "step2")).
		SetStart("step1").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	s := New(wf)
	res, err := s.Run(context.Background(), "run-autosend", "x", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "x-1-2" {
		t.Fatalf("expected autosend/autoyield to forward the return value, got %+v", res.Yields)
	}
}

func TestSchedulerSwitchDefault(t *testing.T) {
	reg := newRegistry(t)
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "sw", Kind: executor.KindInstance, RawValue: forwardExecutor("sw", "", "", false)}).
		AddExecutor(executor.Registration{ID: "fallback", Kind: executor.KindInstance, RawValue: forwardExecutor("fallback", "-fb", "", true)}).
		AddSwitch("sw", "fallback").
		SetStart("sw").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf)
	res, err := s.Run(context.Background(), "run-switch", "anything", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "anything-fb" {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}
}

func TestSchedulerRequestExternalResumesWithResponse(t *testing.T) {
	reg := newRegistry(t)
	waiter := &executor.Func{
		IDValue: "waiter",
		Proto: executor.Protocol{
			Accepts: map[typeid.ID]bool{typeText: true},
			Yields:  map[typeid.ID]bool{typeText: true},
		},
		HandleFn: func(ctx context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			resp, err := wc.RequestExternal("approval", env.Payload, typeText)
			if err != nil {
				return router.CallResult{Kind: router.ResultFailure, Err: err}
			}
			_ = wc.YieldOutput(resp, typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "waiter", Kind: executor.KindInstance, RawValue: waiter}).
		SetStart("waiter").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf)

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			ids := s.gateFor("run-req").PendingIDs()
			if len(ids) > 0 {
				_ = s.ResolveRequest("run-req", ids[0], "approved", nil)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.Run(ctx, "run-req", "payload", typeText)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Yields) != 1 || res.Yields[0] != "approved" {
		t.Fatalf("unexpected yields: %+v", res.Yields)
	}
}

func TestMaxStepsExceeded(t *testing.T) {
	reg := newRegistry(t)
	wf, err := NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "loop", Kind: executor.KindInstance, RawValue: forwardExecutor("loop", "x", "loop", false)}).
		SetStart("loop").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := New(wf, WithMaxSteps(5))
	_, err = s.Run(context.Background(), "run-loop", "s", typeText)
	if err != ErrMaxStepsExceeded {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
}
