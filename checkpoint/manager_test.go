package checkpoint_test

import (
	"context"
	"testing"

	"github.com/dshills/workflow-core/checkpoint"
	"github.com/dshills/workflow-core/checkpoint/memstore"
	"github.com/dshills/workflow-core/scheduler"
)

func TestManagerCommitAndRestoreRoundTrip(t *testing.T) {
	store := memstore.New()
	mgr := checkpoint.NewManager(store, "sess-1", "")
	ctx := context.Background()

	snap := scheduler.StepSnapshot{
		RunID:  "run-1",
		Step:   1,
		System: map[string]interface{}{"k": "v"},
		Pending: []scheduler.PendingItem{
			{OrderKey: 2, TargetID: "b", Payload: "x"},
			{OrderKey: 1, TargetID: "a", Payload: "y"},
		},
	}
	if err := mgr.Commit(ctx, snap); err != nil {
		t.Fatalf("commit: %v", err)
	}

	first := mgr.Latest()
	if first == "" {
		t.Fatalf("expected a committed checkpoint id")
	}

	restored, err := checkpoint.Restore(ctx, store, "sess-1", first)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Checkpoint.RunID != "run-1" || restored.Checkpoint.Step != 1 {
		t.Fatalf("unexpected checkpoint: %+v", restored.Checkpoint)
	}
	if len(restored.Checkpoint.Pending) != 2 {
		t.Fatalf("expected 2 pending deliveries, got %d", len(restored.Checkpoint.Pending))
	}
}

func TestManagerCommitIsIdempotentForSameStep(t *testing.T) {
	store := memstore.New()
	mgr := checkpoint.NewManager(store, "sess-1", "")
	ctx := context.Background()

	snap := scheduler.StepSnapshot{RunID: "run-1", Step: 1, System: map[string]interface{}{"k": "v"}}
	if err := mgr.Commit(ctx, snap); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	first := mgr.Latest()

	// Recommitting the identical step (e.g. a retried commit after a crash)
	// must not create a second checkpoint.
	if err := mgr.Commit(ctx, snap); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if mgr.Latest() != first {
		t.Fatalf("expected idempotent commit to leave latest unchanged, got new id %q", mgr.Latest())
	}

	idx, err := store.RetrieveIndex(ctx, "sess-1", nil)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(idx) != 1 {
		t.Fatalf("expected exactly 1 checkpoint persisted, got %d", len(idx))
	}
}

func TestManagerChainsParentAcrossCommits(t *testing.T) {
	store := memstore.New()
	mgr := checkpoint.NewManager(store, "sess-1", "")
	ctx := context.Background()

	if err := mgr.Commit(ctx, scheduler.StepSnapshot{RunID: "run-1", Step: 1}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	firstID := mgr.Latest()

	if err := mgr.Commit(ctx, scheduler.StepSnapshot{RunID: "run-1", Step: 2}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	secondID := mgr.Latest()

	restored, err := checkpoint.Restore(ctx, store, "sess-1", secondID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Checkpoint.ParentID != firstID {
		t.Fatalf("expected parent %q, got %q", firstID, restored.Checkpoint.ParentID)
	}
}
