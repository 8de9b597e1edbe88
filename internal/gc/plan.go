// Package gc implements the collection-coordination engine: it brings
// mutator threads to a safe point, drives the stage graph of a collection
// cycle through the work-packet scheduler, computes the transitive closure
// over the object graph, and bridges failed allocations to collection
// requests. Concrete collection policies plug in through the Plan
// interface.
package gc

import "github.com/memkit-go/memkit/internal/scheduler"

// ObjectRef is an opaque reference to a heap object. The engine never
// dereferences it; only the policy knows its meaning.
type ObjectRef uint64

// NilRef is the null object reference.
const NilRef ObjectRef = 0

// MutatorID identifies a registered mutator thread.
type MutatorID int

// Plan is the collaborator surface a collection policy implements. The
// engine guarantees when each hook runs, not what it does.
//
// Callbacks must not fail: the engine does not catch or retry errors from
// them, because a partially scanned object graph cannot be recovered. A
// hook that cannot uphold its contract must panic, which aborts the
// process.
type Plan interface {
	// Prepare runs at the start of a cycle, after all mutators have
	// stopped and before any roots are scanned.
	Prepare()

	// Release runs at the end of a cycle, after the closure and reference
	// stages have drained. It reclaims unreachable objects and returns the
	// number of bytes reclaimed. A zero return after a full cycle means
	// the heap is exhausted.
	Release() uint64

	// GlobalRoots reports every global root reference. Called once per
	// cycle, before the closure stage opens.
	GlobalRoots(report func(ObjectRef))

	// MutatorRoots reports the roots of one stopped mutator. Called once
	// per cycle per registered mutator, before the closure stage opens.
	MutatorRoots(id MutatorID, report func(ObjectRef))

	// ScanObject reports every outgoing reference of an object. It must
	// terminate and must not allocate through the engine's slow path.
	ScanObject(ref ObjectRef, visit func(ObjectRef))

	// TryClaim atomically claims an object for scanning in the current
	// cycle. It must be a single compare-and-set on a per-object marker:
	// exactly one of several racing claimers wins. Returns true for the
	// winner.
	TryClaim(ref ObjectRef) bool

	// ProcessWeakRefs runs in the weak-reference stage once the strong
	// closure is complete, and again each time the stage re-drains while
	// it keeps returning true. References it revives are traced through q.
	ProcessWeakRefs(q *ObjectQueue, w *scheduler.Worker) bool

	// HasFinalizables reports whether any finalizable candidates are
	// registered. When false, the finalization stage is skipped.
	HasFinalizables() bool

	// Finalize revives dead finalizable objects by tracing them through q.
	// Runs in the finalization stage.
	Finalize(q *ObjectQueue, w *scheduler.Worker)
}
