package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes structured event output to a writer, in either a
// human-readable key=value form or one-JSON-object-per-line.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		b, err := json.Marshal(event)
		if err != nil {
			fmt.Fprintf(l.writer, "emit: marshal error: %v\n", err)
			return
		}
		fmt.Fprintln(l.writer, string(b))
		return
	}
	fmt.Fprintf(l.writer, "[%s] runID=%s step=%d executorID=%s meta=%v\n",
		event.Kind, event.RunID, event.Step, event.ExecutorID, event.Meta)
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

func (l *LogEmitter) Flush(context.Context) error { return nil }
