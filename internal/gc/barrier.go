package gc

import (
	"fmt"
	"log/slog"
	"sync"
)

// MutatorBarrier brings every registered mutator thread to a safe point
// before collection work starts and releases them afterwards. It is
// initialized once and lives as long as the embedding runtime.
//
// Stops are identified by a generation counter so a mutator that was slow
// to acknowledge the stop for cycle K cannot mistake cycle K+1's resume for
// its own.
type MutatorBarrier struct {
	mu   sync.Mutex
	cond *sync.Cond

	mutators map[MutatorID]*mutatorState
	nextID   MutatorID

	// stopGen is the generation of the in-flight stop request, zero when
	// none. resumeGen is the last generation resumed.
	stopGen   uint64
	resumeGen uint64

	// active counts registered mutators currently running (not parked).
	// acks counts those that acknowledged the in-flight stop.
	active int
	acks   int
}

type mutatorState struct {
	parked bool
}

// Mutator is a per-thread handle onto the barrier. The embedding runtime
// obtains one per application thread and polls Safepoint at safe points.
type Mutator struct {
	b  *MutatorBarrier
	id MutatorID
}

// ID returns the mutator's identifier.
func (m *Mutator) ID() MutatorID { return m.id }

// NewMutatorBarrier creates an empty barrier.
func NewMutatorBarrier() *MutatorBarrier {
	b := &MutatorBarrier{mutators: make(map[MutatorID]*mutatorState)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Register adds the calling thread to the set of mutators. If a stop is in
// flight the call blocks until the world resumes, so a late joiner can
// neither run through a pause nor deadlock the stop request.
func (b *MutatorBarrier) Register() *Mutator {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.stopGen != 0 {
		b.cond.Wait()
	}
	id := b.nextID
	b.nextID++
	b.mutators[id] = &mutatorState{}
	b.active++
	return &Mutator{b: b, id: id}
}

// Deregister removes the mutator. Must be called from a safe point; the
// departing mutator counts as acknowledged for any in-flight stop.
func (m *Mutator) Deregister() {
	b := m.b
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.mutators[m.id]
	if !ok {
		panic(fmt.Sprintf("gc: mutator %d deregistered twice", m.id))
	}
	delete(b.mutators, m.id)
	if !st.parked {
		b.active--
	}
	// The stop requester re-evaluates its quorum.
	b.cond.Broadcast()
}

// Safepoint polls for a pending stop request. If one is in flight the
// mutator acknowledges it and blocks until that generation is resumed;
// otherwise it returns immediately.
func (m *Mutator) Safepoint() {
	b := m.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopGen == 0 {
		return
	}
	gen := b.stopGen
	b.acks++
	b.cond.Broadcast()
	for b.resumeGen < gen {
		b.cond.Wait()
	}
}

// park marks the mutator as blocked in an already-safe state (for example
// waiting on the allocation bridge). A parked mutator does not need to
// acknowledge stop requests.
func (m *Mutator) park() {
	b := m.b
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.mutators[m.id]
	if st.parked {
		panic(fmt.Sprintf("gc: mutator %d parked twice", m.id))
	}
	st.parked = true
	b.active--
	b.cond.Broadcast()
}

// unpark returns the mutator to the running state. If a stop is in flight
// the call blocks until the world resumes.
func (m *Mutator) unpark() {
	b := m.b
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.stopGen != 0 {
		b.cond.Wait()
	}
	st := b.mutators[m.id]
	st.parked = false
	b.active++
}

// RequestStop broadcasts a stop request for the given generation and blocks
// until every running mutator has acknowledged reaching a safe point.
// Exactly one stop/resume pair may be outstanding at a time; a second
// request before the prior resume is a usage error.
func (b *MutatorBarrier) RequestStop(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopGen != 0 {
		panic(fmt.Sprintf("gc: stop %d requested while stop %d is outstanding", gen, b.stopGen))
	}
	if gen <= b.resumeGen {
		panic(fmt.Sprintf("gc: stop generation %d is not after last resumed generation %d", gen, b.resumeGen))
	}
	b.stopGen = gen
	b.acks = 0
	for b.acks < b.active {
		b.cond.Wait()
	}
	slog.Debug("All mutators stopped", "generation", gen, "acknowledged", b.acks, "parked", len(b.mutators)-b.active)
}

// Resume wakes every mutator stopped for the given generation. Called once
// per cycle by the engine, after release hooks have run.
func (b *MutatorBarrier) Resume(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopGen != gen {
		panic(fmt.Sprintf("gc: resume of generation %d but stop %d is outstanding", gen, b.stopGen))
	}
	b.stopGen = 0
	b.acks = 0
	b.resumeGen = gen
	b.cond.Broadcast()
	slog.Debug("Mutators resumed", "generation", gen)
}

// StoppedMutators returns the identifiers of all registered mutators. Only
// meaningful between RequestStop returning and the matching Resume, when
// the set cannot change.
func (b *MutatorBarrier) StoppedMutators() []MutatorID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]MutatorID, 0, len(b.mutators))
	for id := range b.mutators {
		ids = append(ids, id)
	}
	return ids
}

// MutatorCount returns the number of registered mutators.
func (b *MutatorBarrier) MutatorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mutators)
}
