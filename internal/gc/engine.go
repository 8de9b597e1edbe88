package gc

import (
	"context"
	"sync/atomic"

	"github.com/memkit-go/memkit/internal/scheduler"
	"github.com/memkit-go/memkit/internal/telemetry"
)

// Engine is the collection-coordination engine. It owns the scheduler, the
// mutator barrier and the allocation-trigger bridge, and drives collection
// cycles against a pluggable Plan. One Engine coordinates one heap; only
// one cycle is ever active at a time.
type Engine struct {
	sched     *scheduler.Scheduler
	plan      Plan
	barrier   *MutatorBarrier
	requester *requester
	metrics   *telemetry.CollectionMetrics

	queueCap int
	nextGen  atomic.Uint64

	collecting atomic.Bool
	cycle      atomic.Pointer[cycleState]
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches collection metrics. Nil metrics are a no-op.
func WithMetrics(m *telemetry.CollectionMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithObjectQueueCapacity overrides the per-worker frontier buffer size.
func WithObjectQueueCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueCap = n
		}
	}
}

// New creates an engine driving the given plan with a pool of numWorkers
// workers. Workers do not run until StartWorkers.
func New(plan Plan, numWorkers int, opts ...Option) *Engine {
	e := &Engine{
		sched:    scheduler.New(numWorkers),
		plan:     plan,
		barrier:  NewMutatorBarrier(),
		queueCap: DefaultObjectQueueCapacity,
	}
	e.requester = newRequester(e.sched.RequestCollection)
	for _, opt := range opts {
		opt(e)
	}
	e.sched.SetSkipCondition(scheduler.StageFinalRefs, func() bool {
		return !e.plan.HasFinalizables()
	})
	return e
}

// Scheduler returns the engine's work-packet scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Barrier returns the engine's mutator barrier. The embedding runtime
// registers its threads here.
func (e *Engine) Barrier() *MutatorBarrier { return e.barrier }

// StartWorkers spawns the worker pool. Workers persist across cycles.
func (e *Engine) StartWorkers() {
	e.sched.StartWorkers(e)
	e.metrics.RecordWorkers(int64(e.sched.NumWorkers()))
}

// Shutdown stops the worker pool. A cycle in progress completes first.
func (e *Engine) Shutdown() {
	e.sched.Shutdown()
	e.metrics.RecordWorkers(0)
}

// SubmitWork enqueues a packet into the bucket for the given stage. It
// never blocks. Submitting to a stage the current cycle has already
// advanced past is a contract violation and panics.
func (e *Engine) SubmitWork(stage scheduler.Stage, p scheduler.Packet) {
	e.sched.Add(stage, p)
}

// InProgress reports whether a collection cycle is currently running.
func (e *Engine) InProgress() bool {
	return e.collecting.Load()
}

// RequestCollection is the allocation-trigger bridge: a mutator whose
// allocation failed calls it to run a collection and blocks until the
// in-progress or newly started cycle completes. The mutator handle m, if
// non-nil, is parked for the duration so the stop-the-world barrier does
// not wait on a thread that is already safe.
//
// Returns OutcomeCompleted when memory was reclaimed and the allocation
// should be retried, or OutcomeOutOfMemory when a full cycle reclaimed
// nothing.
func (e *Engine) RequestCollection(ctx context.Context, m *Mutator) (Outcome, error) {
	if m != nil {
		m.park()
		defer m.unpark()
	}
	return e.requester.requestAndWait(ctx)
}
