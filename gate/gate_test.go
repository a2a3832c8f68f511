package gate

import (
	"errors"
	"testing"
)

func TestSuspendResolveRoundTrip(t *testing.T) {
	g := New()
	id, respCh := g.Suspend()
	if g.Outstanding() != 1 {
		t.Fatalf("expected 1 outstanding request")
	}
	if err := g.Resolve(id, "answer", nil); err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	resp := <-respCh
	if resp.Value != "answer" || resp.Err != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if g.Outstanding() != 0 {
		t.Fatalf("expected 0 outstanding after resolve")
	}
}

func TestResolveUnknownRequestRejected(t *testing.T) {
	g := New()
	if err := g.Resolve("nope", nil, nil); err == nil {
		t.Fatalf("expected error resolving unknown request id")
	}
}

func TestResolveTwiceRejectsSecond(t *testing.T) {
	g := New()
	id, _ := g.Suspend()
	if err := g.Resolve(id, 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.Resolve(id, 2, nil); err == nil {
		t.Fatalf("expected duplicate resolve to be rejected")
	}
}

func TestResolveCarriesError(t *testing.T) {
	g := New()
	id, respCh := g.Suspend()
	wantErr := errors.New("boom")
	if err := g.Resolve(id, nil, wantErr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp := <-respCh
	if !errors.Is(resp.Err, wantErr) {
		t.Fatalf("expected carried error, got %v", resp.Err)
	}
}

func TestCancelDropsRequestWithoutResolving(t *testing.T) {
	g := New()
	id, _ := g.Suspend()
	g.Cancel(id)
	if g.Outstanding() != 0 {
		t.Fatalf("expected 0 outstanding after cancel")
	}
	if err := g.Resolve(id, nil, nil); err == nil {
		t.Fatalf("expected resolve after cancel to fail")
	}
}

func TestPendingIDs(t *testing.T) {
	g := New()
	id1, _ := g.Suspend()
	id2, _ := g.Suspend()
	ids := g.PendingIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 pending ids, got %d", len(ids))
	}
	found := map[string]bool{ids[0]: true, ids[1]: true}
	if !found[id1] || !found[id2] {
		t.Fatalf("pending ids missing expected entries: %v", ids)
	}
}
