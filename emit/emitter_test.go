package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNullEmitterDiscardsEverything(t *testing.T) {
	n := NewNullEmitter()
	n.Emit(Event{Kind: "x"})
	if err := n.EmitBatch(context.Background(), []Event{{Kind: "y"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBufferedEmitterHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Kind: "a"})
	b.Emit(Event{RunID: "r1", Kind: "b"})
	b.Emit(Event{RunID: "r2", Kind: "c"})

	hist := b.History("r1")
	if len(hist) != 2 || hist[0].Kind != "a" || hist[1].Kind != "b" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if len(b.History("r2")) != 1 {
		t.Fatalf("expected 1 event for r2")
	}
	b.Clear("r1")
	if len(b.History("r1")) != 0 {
		t.Fatalf("expected r1 cleared")
	}
	if len(b.History("r2")) != 1 {
		t.Fatalf("clear with runID must not affect other runs")
	}
}

func TestBufferedEmitterClearAll(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{RunID: "r1", Kind: "a"})
	b.Clear("")
	if len(b.History("r1")) != 0 {
		t.Fatalf("expected all events cleared")
	}
}

func TestLogEmitterTextMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)
	l.Emit(Event{RunID: "r1", Step: 2, ExecutorID: "e1", Kind: "node_start"})
	out := buf.String()
	if !strings.Contains(out, "node_start") || !strings.Contains(out, "r1") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestLogEmitterJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)
	l.Emit(Event{RunID: "r1", Kind: "node_start"})
	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected JSON output, got %q", out)
	}
}
