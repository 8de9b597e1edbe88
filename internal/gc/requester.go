package gc

import (
	"context"
	"sync"
)

// Outcome reports how a collection cycle ended, as seen by the mutator
// whose allocation triggered it.
type Outcome int

const (
	// OutcomeCompleted means the cycle ran and reclaimed memory; the
	// triggering allocation should be retried.
	OutcomeCompleted Outcome = iota
	// OutcomeOutOfMemory means a full cycle reclaimed nothing: the heap is
	// exhausted. Expected and recoverable; the embedding runtime decides
	// how to surface it.
	OutcomeOutOfMemory
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeOutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// requester is the allocation-trigger bridge: mutators whose allocation
// failed request a collection here and block until the in-progress or newly
// started cycle completes. Concurrent requests collapse into one cycle and
// all callers receive that cycle's outcome.
type requester struct {
	mu        sync.Mutex
	scheduled bool
	waiters   []chan Outcome

	// schedule asks the scheduler to start a cycle. Called at most once
	// per cycle, under mu.
	schedule func()
}

func newRequester(schedule func()) *requester {
	return &requester{schedule: schedule}
}

// requestAndWait joins the in-progress cycle, or schedules a new one, and
// blocks until the cycle's outcome is delivered. The context only abandons
// the wait; the cycle itself cannot be cancelled.
func (r *requester) requestAndWait(ctx context.Context) (Outcome, error) {
	ch := make(chan Outcome, 1)
	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	if !r.scheduled {
		r.scheduled = true
		r.schedule()
	}
	r.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		return OutcomeCompleted, ctx.Err()
	}
}

// cycleFinished delivers the outcome to every waiter and re-arms the
// requester for the next cycle.
func (r *requester) cycleFinished(o Outcome) {
	r.mu.Lock()
	ws := r.waiters
	r.waiters = nil
	r.scheduled = false
	r.mu.Unlock()
	for _, ch := range ws {
		ch <- o
	}
}

// inProgress reports whether a cycle is scheduled or running.
func (r *requester) inProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduled
}
