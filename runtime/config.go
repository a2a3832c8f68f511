// Package runtime is the Run surface callers drive a Workflow through:
// open/run/stream/resume plus sendMessage/sendResponse/cancel (spec
// §4.9, §6). Everything below it — scheduler, gate, checkpoint — is
// reusable in its own right; runtime is the one place that wires them
// together into something an application calls directly.
package runtime

import (
	"time"

	"github.com/dshills/workflow-core/checkpoint"
	"github.com/dshills/workflow-core/metrics"
	"github.com/dshills/workflow-core/scheduler"
)

// Config configures a Runtime. The zero value is usable; Open fills in
// defaults for anything left unset, the same functional-option pattern
// scheduler.Options uses.
type Config struct {
	// MaxConcurrentExecutors, QueueDepth, MaxSteps, DefaultExecutorTimeout,
	// DefaultRetryPolicy pass straight through to scheduler.Options.
	MaxConcurrentExecutors int
	QueueDepth             int
	MaxSteps               int
	DefaultExecutorTimeout time.Duration
	DefaultRetryPolicy     *scheduler.RetryPolicy

	// EventBuffer bounds the per-run event channel Stream and Open hand
	// back — the back-pressured channel of spec §5 ("the scheduler
	// blocks on full channel"). 0 means DefaultEventBuffer.
	EventBuffer int

	// CheckpointStore, if set, backs a checkpoint.Manager per session —
	// sessions are addressed by sessionId, never by the bare runId a
	// given attempt happens to use (spec §4.8's checkpoint tree is keyed
	// one level above an individual run), so the Runtime keeps one
	// Manager per sessionID and routes each committed StepSnapshot to it
	// by snap.RunID.
	CheckpointStore checkpoint.Store

	// Metrics, if set, receives per-run instrumentation from every session
	// this Runtime drives.
	Metrics metrics.Collector
}

// DefaultEventBuffer is used when Config.EventBuffer is 0.
const DefaultEventBuffer = 256

func (c Config) withDefaults() Config {
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

func (c Config) schedulerOptions(emitter *hub, cp scheduler.Checkpointer) scheduler.Options {
	return scheduler.Options{
		MaxConcurrentExecutors: c.MaxConcurrentExecutors,
		QueueDepth:             c.QueueDepth,
		MaxSteps:               c.MaxSteps,
		DefaultExecutorTimeout: c.DefaultExecutorTimeout,
		DefaultRetryPolicy:     c.DefaultRetryPolicy,
		Emitter:                emitter,
		Checkpointer:           cp,
		Metrics:                c.Metrics,
	}
}

// Option mutates a Config during Open.
type Option func(*Config)

// WithWorkerPool caps per-step executor parallelism.
func WithWorkerPool(n int) Option {
	return func(c *Config) { c.MaxConcurrentExecutors = n }
}

// WithQueueDepth caps the frontier's capacity per step.
func WithQueueDepth(n int) Option {
	return func(c *Config) { c.QueueDepth = n }
}

// WithMaxSteps bounds the number of supersteps a run may take.
func WithMaxSteps(n int) Option {
	return func(c *Config) { c.MaxSteps = n }
}

// WithDefaultExecutorTimeout sets the fallback per-handler timeout.
func WithDefaultExecutorTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultExecutorTimeout = d }
}

// WithDefaultRetryPolicy sets the fallback retry policy.
func WithDefaultRetryPolicy(p *scheduler.RetryPolicy) Option {
	return func(c *Config) { c.DefaultRetryPolicy = p }
}

// WithEventBuffer sets the per-run event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) { c.EventBuffer = n }
}

// WithCheckpointStore installs the durable store backing one
// checkpoint.Manager per session, committed after every superstep.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(c *Config) { c.CheckpointStore = store }
}

// WithMetrics installs a metrics.Collector shared by every session this
// Runtime drives.
func WithMetrics(c metrics.Collector) Option {
	return func(cfg *Config) { cfg.Metrics = c }
}
