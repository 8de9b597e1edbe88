// Package heap provides a synthetic in-memory object heap and a mark-only
// collection policy. It stands in for a real space implementation so the
// coordination engine can be exercised, stressed and tested without an
// embedding runtime: objects are nodes with edge lists, mark state is one
// atomic word per object, and sweeping simply drops unmarked nodes.
package heap

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/memkit-go/memkit/internal/gc"
)

// Object is one synthetic heap object: a size, an outgoing edge list, and
// the per-object metadata the engine's closure relies on.
type Object struct {
	size  uint64
	edges []gc.ObjectRef

	// mark is the cycle claim bit: 0 unclaimed, 1 claimed. Cleared during
	// Prepare, tested-and-set by TryClaim.
	mark atomic.Uint32

	// scans counts ScanObject invocations in the current cycle. Test
	// instrumentation for the exactly-once property.
	scans atomic.Uint32
}

// Heap is a bounded synthetic heap. All structural mutation (allocation,
// linking, root changes) happens on mutator threads outside collection
// cycles, guarded by mu; during a cycle only the per-object atomics are
// touched, so parallel workers never contend on the lock.
type Heap struct {
	mu sync.RWMutex

	objects      map[gc.ObjectRef]*Object
	globalRoots  []gc.ObjectRef
	mutatorRoots map[gc.MutatorID][]gc.ObjectRef

	weakRefs     []gc.ObjectRef
	finalizables []gc.ObjectRef

	nextRef    uint64
	limitBytes uint64
	usedBytes  uint64
}

// New creates a heap bounded to limitBytes.
func New(limitBytes uint64) *Heap {
	return &Heap{
		objects:      make(map[gc.ObjectRef]*Object),
		mutatorRoots: make(map[gc.MutatorID][]gc.ObjectRef),
		limitBytes:   limitBytes,
	}
}

// Alloc allocates an object of the given size with the given outgoing
// edges. Returns NilRef and false when the heap is exhausted; the caller is
// expected to request a collection and retry.
func (h *Heap) Alloc(size uint64, edges ...gc.ObjectRef) (gc.ObjectRef, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.usedBytes+size > h.limitBytes {
		return gc.NilRef, false
	}
	h.nextRef++
	ref := gc.ObjectRef(h.nextRef)
	h.objects[ref] = &Object{size: size, edges: append([]gc.ObjectRef(nil), edges...)}
	h.usedBytes += size
	return ref, true
}

// MustAlloc allocates or panics. Test and setup helper.
func (h *Heap) MustAlloc(size uint64, edges ...gc.ObjectRef) gc.ObjectRef {
	ref, ok := h.Alloc(size, edges...)
	if !ok {
		panic(fmt.Sprintf("heap: allocation of %d bytes failed", size))
	}
	return ref
}

// Link adds an edge from one object to another.
func (h *Heap) Link(from, to gc.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[from]
	if !ok {
		panic(fmt.Sprintf("heap: link from dead or unknown object %d", from))
	}
	obj.edges = append(obj.edges, to)
}

// AddGlobalRoot registers a global root.
func (h *Heap) AddGlobalRoot(ref gc.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globalRoots = append(h.globalRoots, ref)
}

// SetMutatorRoots replaces the root set of one mutator.
func (h *Heap) SetMutatorRoots(id gc.MutatorID, roots []gc.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mutatorRoots[id] = append([]gc.ObjectRef(nil), roots...)
}

// ClearRoots drops all global and mutator roots, making the whole heap
// unreachable.
func (h *Heap) ClearRoots() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globalRoots = nil
	h.mutatorRoots = make(map[gc.MutatorID][]gc.ObjectRef)
}

// AddWeakRef registers a weak reference to target: it does not keep the
// target alive, and is cleared when the target dies.
func (h *Heap) AddWeakRef(target gc.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.weakRefs = append(h.weakRefs, target)
}

// WeakRefs returns the surviving weak reference targets.
func (h *Heap) WeakRefs() []gc.ObjectRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]gc.ObjectRef(nil), h.weakRefs...)
}

// AddFinalizable registers an object for finalization: if it dies, it is
// revived for one extra cycle before it can be reclaimed.
func (h *Heap) AddFinalizable(ref gc.ObjectRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizables = append(h.finalizables, ref)
}

// Contains reports whether ref is live on the heap.
func (h *Heap) Contains(ref gc.ObjectRef) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.objects[ref]
	return ok
}

// ObjectCount returns the number of live objects.
func (h *Heap) ObjectCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}

// UsedBytes returns the bytes currently allocated.
func (h *Heap) UsedBytes() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usedBytes
}

// ScanCount returns how many times ref was scanned in the last cycle.
func (h *Heap) ScanCount(ref gc.ObjectRef) uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.objects[ref]
	if !ok {
		return 0
	}
	return obj.scans.Load()
}

// RandomLive returns a uniformly random live object, or NilRef when the
// heap is empty. Used by the stress workload to build edges.
func (h *Heap) RandomLive() gc.ObjectRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.objects) == 0 {
		return gc.NilRef
	}
	n := rand.IntN(len(h.objects))
	for ref := range h.objects {
		if n == 0 {
			return ref
		}
		n--
	}
	return gc.NilRef
}
