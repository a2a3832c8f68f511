package scheduler

import (
	"fmt"

	"github.com/dshills/workflow-core/executor"
	"github.com/dshills/workflow-core/typeid"
	"github.com/dshills/workflow-core/wfedge"
)

// Workflow is the static, immutable graph a Scheduler drives: a set of
// executor registrations, the edge graph connecting them, and a start
// executor (spec §3 Workflow).
type Workflow struct {
	registrations map[string]*executor.Registration
	order         []string // declaration order, for deterministic iteration
	graph         *wfedge.Graph
	startID       string
	registry      *typeid.Registry
}

// Registration looks up an executor's registration by id.
func (w *Workflow) Registration(id string) (*executor.Registration, bool) {
	r, ok := w.registrations[id]
	return r, ok
}

// Graph returns the workflow's edge graph.
func (w *Workflow) Graph() *wfedge.Graph { return w.graph }

// StartID returns the designated start executor's id.
func (w *Workflow) StartID() string { return w.startID }

// ExecutorIDs returns every registered executor id in declaration order.
func (w *Workflow) ExecutorIDs() []string {
	return append([]string(nil), w.order...)
}

// WorkflowBuilder assembles a Workflow declaratively (spec §3
// WorkflowBuilder: addExecutor, addEdge, addSwitch, setStart, build).
type WorkflowBuilder struct {
	registry      *typeid.Registry
	registrations map[string]*executor.Registration
	order         []string
	edges         []wfedge.Edge
	startID       string
	err           error
}

// NewBuilder creates a WorkflowBuilder that resolves base-type routing
// against registry.
func NewBuilder(registry *typeid.Registry) *WorkflowBuilder {
	return &WorkflowBuilder{
		registry:      registry,
		registrations: make(map[string]*executor.Registration),
	}
}

// AddExecutor registers an executor. Registering the same id twice is an
// error — callers that need a placeholder bound later should use
// executor.KindPlaceholder and Registration.Bind.
func (b *WorkflowBuilder) AddExecutor(reg executor.Registration) *WorkflowBuilder {
	if b.err != nil {
		return b
	}
	if reg.ID == "" {
		b.err = fmt.Errorf("scheduler: executor registration missing an id")
		return b
	}
	if _, exists := b.registrations[reg.ID]; exists {
		b.err = fmt.Errorf("scheduler: executor id %q registered twice", reg.ID)
		return b
	}
	r := reg
	b.registrations[reg.ID] = &r
	b.order = append(b.order, reg.ID)
	return b
}

// AddEdge appends an edge of any kind (direct, conditional, fan-out,
// fan-in, switch) to the graph under construction.
func (b *WorkflowBuilder) AddEdge(e wfedge.Edge) *WorkflowBuilder {
	if b.err != nil {
		return b
	}
	b.edges = append(b.edges, e)
	return b
}

// AddSwitch is sugar for AddEdge(wfedge.Switch(...)).
func (b *WorkflowBuilder) AddSwitch(from, def string, cases ...wfedge.Case) *WorkflowBuilder {
	return b.AddEdge(wfedge.Switch(from, def, cases...))
}

// SetStart designates the executor that receives a run's initial delivery.
func (b *WorkflowBuilder) SetStart(id string) *WorkflowBuilder {
	if b.err != nil {
		return b
	}
	b.startID = id
	return b
}

// Build validates and finalizes the Workflow. It is an error for an edge to
// name an executor id that was never registered, or for no start executor
// to have been set.
func (b *WorkflowBuilder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.startID == "" {
		return nil, fmt.Errorf("scheduler: workflow has no start executor")
	}
	if _, ok := b.registrations[b.startID]; !ok {
		return nil, fmt.Errorf("scheduler: start executor %q was never registered", b.startID)
	}
	for _, e := range b.edges {
		for _, id := range edgeExecutorIDs(e) {
			if id == "" {
				continue
			}
			if _, ok := b.registrations[id]; !ok {
				return nil, fmt.Errorf("scheduler: edge references unregistered executor %q", id)
			}
		}
	}
	return &Workflow{
		registrations: b.registrations,
		order:         b.order,
		graph:         wfedge.Build(b.edges),
		startID:       b.startID,
		registry:      b.registry,
	}, nil
}

func edgeExecutorIDs(e wfedge.Edge) []string {
	ids := []string{e.From, e.To, e.FanOutFrom, e.FanInTo, e.SwitchFrom, e.Default}
	for _, t := range e.Targets {
		ids = append(ids, t.To)
	}
	ids = append(ids, e.Sources...)
	for _, c := range e.Cases {
		ids = append(ids, c.To)
	}
	return ids
}
