// Command subworkflow is scenario 6 of the concrete scenarios: an inner
// two-step workflow is embedded in an outer one. Outer step k executes
// inner step 0, outer step k+1 executes inner step 1, and the inner
// output appears as an outer yield.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/router"
	"github.com/dshills/workflow-core/scheduler"
	"github.com/dshills/workflow-core/sharedpolicy"
	"github.com/dshills/workflow-core/subworkflow"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

const typeText typeid.ID = "subworkflow_example.Text"

// innerWorkflow is a two-step chain: bump forwards its input to double,
// which yields the input doubled.
func innerWorkflow() *scheduler.Workflow {
	reg := typeid.NewScoped()
	if err := reg.Register(typeText, ""); err != nil {
		log.Fatalf("register: %v", err)
	}
	bump := &executor.Func{
		IDValue: "bump",
		Proto:   executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Sends: map[typeid.ID]bool{typeText: true}},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			wc.SendMessage(env.Payload, "double", typeText)
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	double := &executor.Func{
		IDValue: "double",
		Proto:   executor.Protocol{Accepts: map[typeid.ID]bool{typeText: true}, Yields: map[typeid.ID]bool{typeText: true}},
		HandleFn: func(_ context.Context, env envelope.Envelope, wc *wfcontext.Context) router.CallResult {
			s, _ := env.Payload.(string)
			if err := wc.YieldOutput(s+s, typeText); err != nil {
				return router.CallResult{Kind: router.ResultFailure, Err: err}
			}
			return router.CallResult{Kind: router.ResultSuccess}
		},
	}
	wf, err := scheduler.NewBuilder(reg).
		AddExecutor(executor.Registration{ID: "bump", Kind: executor.KindInstance, RawValue: bump}).
		AddExecutor(executor.Registration{ID: "double", Kind: executor.KindInstance, RawValue: double}).
		AddEdge(wfedge.Direct("bump", "double")).
		SetStart("bump").
		Build()
	if err != nil {
		log.Fatalf("build inner workflow: %v", err)
	}
	return wf
}

func outerWorkflow(host *subworkflow.Host) *scheduler.Workflow {
	reg := typeid.NewScoped()
	if err := reg.Register(typeText, ""); err != nil {
		log.Fatalf("register: %v", err)
	}
	wf, err := scheduler.NewBuilder(reg).
		AddExecutor(executor.Registration{ID: host.ID(), Kind: executor.KindSubworkflowHost, RawValue: host}).
		SetStart(host.ID()).
		Build()
	if err != nil {
		log.Fatalf("build outer workflow: %v", err)
	}
	return wf
}

func main() {
	fmt.Println("Subworkflow")
	fmt.Println("===========")

	inner := scheduler.New(innerWorkflow())
	token := sharedpolicy.NewOwnershipToken()
	host, err := subworkflow.NewHost("inner-host", token, inner, subworkflow.HostConfig{InputType: typeText})
	if err != nil {
		log.Fatalf("new host: %v", err)
	}

	outer := scheduler.New(outerWorkflow(host))
	res, err := outer.Run(context.Background(), "run-subworkflow", "ab", typeText)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	fmt.Printf("yields: %v\n", res.Yields)
	fmt.Printf("outer supersteps: %d (expected 2 — one per inner step)\n", res.Steps)
}
