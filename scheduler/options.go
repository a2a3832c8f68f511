package scheduler

import (
	"time"

	"github.com/dshills/workflow-core/emit"
	"github.com/dshills/workflow-core/metrics"
)

// Options configures a Scheduler. The zero value is usable; New fills in
// defaults for anything left unset. Functional Option values may be mixed
// in after an Options struct, the same pattern the teacher's Engine uses
// for its own configuration.
type Options struct {
	// MaxConcurrentExecutors bounds how many executors run their handlers
	// in parallel within a superstep. 0 means DefaultMaxConcurrentExecutors.
	MaxConcurrentExecutors int
	// QueueDepth bounds the frontier's capacity per step. 0 means
	// DefaultQueueDepth.
	QueueDepth int
	// MaxSteps stops a run that never terminates on its own. 0 means no
	// limit.
	MaxSteps int
	// DefaultExecutorTimeout bounds a single handler invocation, as a
	// deadline on the context passed to Handle; it applies to every
	// executor. 0 means no timeout.
	DefaultExecutorTimeout time.Duration
	// DefaultRetryPolicy applies to every executor; there is no
	// per-executor policy.
	DefaultRetryPolicy *RetryPolicy
	// Emitter receives observability events. Defaults to emit.NullEmitter.
	Emitter emit.Emitter
	// Checkpointer, if set, is committed a StepSnapshot after every
	// superstep that dispatched at least one delivery.
	Checkpointer Checkpointer
	// Metrics, if set, receives per-run instrumentation: queue depth,
	// in-flight executor count, handler latency, retries, and backpressure.
	Metrics metrics.Collector
}

const (
	// DefaultMaxConcurrentExecutors is used when Options.MaxConcurrentExecutors is 0.
	DefaultMaxConcurrentExecutors = 8
	// DefaultQueueDepth is used when Options.QueueDepth is 0.
	DefaultQueueDepth = 1024
)

func (o Options) withDefaults() Options {
	if o.MaxConcurrentExecutors <= 0 {
		o.MaxConcurrentExecutors = DefaultMaxConcurrentExecutors
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Emitter == nil {
		o.Emitter = emit.NewNullEmitter()
	}
	return o
}

// Option mutates Options during Scheduler construction.
type Option func(*Options)

// WithMaxConcurrentExecutors caps per-step parallelism.
func WithMaxConcurrentExecutors(n int) Option {
	return func(o *Options) { o.MaxConcurrentExecutors = n }
}

// WithQueueDepth caps the frontier's capacity.
func WithQueueDepth(n int) Option {
	return func(o *Options) { o.QueueDepth = n }
}

// WithMaxSteps bounds the number of supersteps a run may take.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithDefaultExecutorTimeout sets the fallback per-handler timeout.
func WithDefaultExecutorTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultExecutorTimeout = d }
}

// WithDefaultRetryPolicy sets the fallback retry policy.
func WithDefaultRetryPolicy(p *RetryPolicy) Option {
	return func(o *Options) { o.DefaultRetryPolicy = p }
}

// WithEmitter installs an observability sink.
func WithEmitter(e emit.Emitter) Option {
	return func(o *Options) { o.Emitter = e }
}

// WithCheckpointer installs a Checkpointer committed after every superstep.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Options) { o.Checkpointer = c }
}

// WithMetrics installs a metrics.Collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *Options) { o.Metrics = c }
}
