package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/workflow-core/checkpoint"
)

func TestCreateAndRetrieveCheckpoint(t *testing.T) {
	s := New()
	ctx := context.Background()
	info := checkpoint.Info{ID: "cp-1", SessionID: "sess-1", Step: 1, Timestamp: time.Now()}

	if err := s.CreateCheckpoint(ctx, info, []byte(`{"step":1}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	blob, err := s.RetrieveCheckpoint(ctx, "sess-1", "cp-1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if string(blob) != `{"step":1}` {
		t.Fatalf("unexpected blob: %s", blob)
	}
}

func TestCreateCheckpointDuplicateIDRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	info := checkpoint.Info{ID: "cp-1", SessionID: "sess-1"}

	if err := s.CreateCheckpoint(ctx, info, []byte(`{}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateCheckpoint(ctx, info, []byte(`{}`))
	if !errors.Is(err, checkpoint.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRetrieveCheckpointUnknownReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.RetrieveCheckpoint(context.Background(), "sess-1", "missing")
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetrieveIndexFiltersByParent(t *testing.T) {
	s := New()
	ctx := context.Background()
	root := checkpoint.Info{ID: "root", SessionID: "sess-1"}
	child := checkpoint.Info{ID: "child", SessionID: "sess-1", ParentID: "root"}
	if err := s.CreateCheckpoint(ctx, root, []byte(`{}`)); err != nil {
		t.Fatalf("create root: %v", err)
	}
	if err := s.CreateCheckpoint(ctx, child, []byte(`{}`)); err != nil {
		t.Fatalf("create child: %v", err)
	}

	all, err := s.RetrieveIndex(ctx, "sess-1", nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d (err %v)", len(all), err)
	}

	parent := "root"
	children, err := s.RetrieveIndex(ctx, "sess-1", &parent)
	if err != nil || len(children) != 1 || children[0].ID != "child" {
		t.Fatalf("expected only child, got %+v (err %v)", children, err)
	}
}

func TestIdempotencyMarkAndCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	exists, err := s.CheckIdempotency(ctx, "k1")
	if err != nil || exists {
		t.Fatalf("expected unset key, got %v %v", exists, err)
	}
	if err := s.MarkIdempotency(ctx, "k1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	exists, err = s.CheckIdempotency(ctx, "k1")
	if err != nil || !exists {
		t.Fatalf("expected marked key, got %v %v", exists, err)
	}
}
