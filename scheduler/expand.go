package scheduler

import (
	"fmt"

	"github.com/dshills/workflow-core/envelope"
	"github.com/dshills/workflow-core/wfcontext"
	"github.com/dshills/workflow-core/wfedge"
)

// expandSend turns one Send produced by a handler into zero or more
// work items for the next superstep, following the edge graph when the
// send has no explicit target (spec §4.4 edge evaluation).
func (s *Scheduler) expandSend(rs *runState, sourceID string, send wfcontext.Send, seq *int) error {
	if send.TargetID != "" {
		return s.deliverDirect(rs, sourceID, send.TargetID, send, seq)
	}

	edges := s.wf.graph.OutgoingFrom(sourceID)
	for _, e := range edges {
		if err := s.applyEdge(rs, sourceID, e, send, seq); err != nil {
			return err
		}
	}
	for _, e := range s.wf.graph.FanInsFrom(sourceID) {
		if err := s.applyFanIn(rs, sourceID, e, send, seq); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) deliverDirect(rs *runState, sourceID, targetID string, send wfcontext.Send, seq *int) error {
	if _, ok := s.wf.registrations[targetID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownExecutor, targetID)
	}
	env := envelope.New(send.Payload, send.DeclaredType).WithSource(sourceID, 0)
	*seq++
	err := rs.pushNext(workItem{
		OrderKey: ComputeOrderKey(sourceID, *seq),
		TargetID: targetID,
		Envelope: env,
	})
	if err != nil && s.opts.Metrics != nil {
		s.opts.Metrics.IncrementBackpressure(rs.runID, "queue_full")
	}
	return err
}

func (s *Scheduler) applyEdge(rs *runState, sourceID string, e wfedge.Edge, send wfcontext.Send, seq *int) error {
	switch e.Kind {
	case wfedge.KindDirect:
		return s.deliverDirect(rs, sourceID, e.To, send, seq)

	case wfedge.KindConditional:
		if e.When != nil && !e.When(send.Payload) {
			return nil
		}
		return s.deliverDirect(rs, sourceID, e.To, send, seq)

	case wfedge.KindFanOut:
		return s.applyFanOut(rs, sourceID, e, send, seq)

	case wfedge.KindSwitch:
		return s.applySwitch(rs, sourceID, e, send, seq)
	}
	return nil
}

func (s *Scheduler) applyFanOut(rs *runState, sourceID string, e wfedge.Edge, send wfcontext.Send, seq *int) error {
	matched := make([]wfedge.FanOutTarget, 0, len(e.Targets))
	for _, t := range e.Targets {
		if t.When == nil || t.When(send.Payload) {
			matched = append(matched, t)
		}
	}
	switch e.Saturation {
	case wfedge.SaturationAll:
		if len(matched) != len(e.Targets) {
			return nil
		}
	case wfedge.SaturationFirstMatching:
		if len(matched) > 1 {
			matched = matched[:1]
		}
	case wfedge.SaturationAnyMatching:
		// deliver to every match, the default.
	}
	for _, t := range matched {
		if err := s.deliverDirect(rs, sourceID, t.To, send, seq); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) applySwitch(rs *runState, sourceID string, e wfedge.Edge, send wfcontext.Send, seq *int) error {
	for _, c := range e.Cases {
		if c.When != nil && c.When(send.Payload) {
			return s.deliverDirect(rs, sourceID, c.To, send, seq)
		}
	}
	if e.Default == "" {
		return nil // spec §8: no matching case and no default drops the message
	}
	return s.deliverDirect(rs, sourceID, e.Default, send, seq)
}

// applyFanIn records a delivery toward a fan-in edge and fires it once the
// completion condition is satisfied. The accumulator is run-scoped rather
// than step-scoped: a fan-in whose sources deliver across multiple
// supersteps still merges correctly, since what matters is "one delivery
// received per source since the last time this fan-in fired."
//
// Two fan-in sources can dispatch concurrently (each under its own
// per-executor lock), so the fire check and the merged-payload snapshot
// must happen under rs.mu, not after releasing it — reading acc.delivered
// or acc.payloads outside the lock races the other source's write to the
// same map.
func (s *Scheduler) applyFanIn(rs *runState, sourceID string, e wfedge.Edge, send wfcontext.Send, seq *int) error {
	key := fanInKey(e)
	acc := rs.fanInState(key)

	rs.mu.Lock()
	acc.delivered[sourceID] = true
	acc.payloads[sourceID] = send.Payload

	var fire bool
	if e.Complete != nil {
		fire = e.Complete(acc.delivered)
	} else {
		fire = len(acc.delivered) >= len(e.Sources)
	}
	if !fire {
		rs.mu.Unlock()
		return nil
	}

	// Merge in e.Sources declaration order (spec §4.4), not map order —
	// a source that never delivered leaves a nil hole rather than shifting
	// later sources' positions.
	merged := make([]interface{}, len(e.Sources))
	for i, src := range e.Sources {
		merged[i] = acc.payloads[src]
	}
	delete(rs.fanIn, key)
	rs.mu.Unlock()

	return s.deliverDirect(rs, sourceID, e.FanInTo, wfcontext.Send{Payload: merged, DeclaredType: send.DeclaredType}, seq)
}

func fanInKey(e wfedge.Edge) string {
	key := e.FanInTo + "|"
	for _, s := range e.Sources {
		key += s + ","
	}
	return key
}
