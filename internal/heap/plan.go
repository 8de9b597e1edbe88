package heap

import (
	"log/slog"

	"github.com/memkit-go/memkit/internal/gc"
	"github.com/memkit-go/memkit/internal/scheduler"
)

// MarkPlan is a mark-and-drop collection policy over the synthetic heap:
// Prepare clears marks, the engine's closure claims and scans objects, weak
// references to dead targets are cleared, dead finalizables are revived for
// one cycle, and Release drops whatever stayed unmarked.
type MarkPlan struct {
	h *Heap
}

// NewMarkPlan creates the policy for the given heap.
func NewMarkPlan(h *Heap) *MarkPlan {
	return &MarkPlan{h: h}
}

// Prepare clears every object's claim bit and scan counter.
func (p *MarkPlan) Prepare() {
	h := p.h
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, obj := range h.objects {
		obj.mark.Store(0)
		obj.scans.Store(0)
	}
}

// Release sweeps: every unmarked object is dropped and its bytes returned.
func (p *MarkPlan) Release() uint64 {
	h := p.h
	h.mu.Lock()
	defer h.mu.Unlock()
	var reclaimed uint64
	for ref, obj := range h.objects {
		if obj.mark.Load() == 0 {
			delete(h.objects, ref)
			h.usedBytes -= obj.size
			reclaimed += obj.size
		}
	}
	slog.Debug("Heap swept", "reclaimed_bytes", reclaimed, "live_objects", len(h.objects))
	return reclaimed
}

// GlobalRoots reports the global root set.
func (p *MarkPlan) GlobalRoots(report func(gc.ObjectRef)) {
	h := p.h
	h.mu.RLock()
	roots := append([]gc.ObjectRef(nil), h.globalRoots...)
	h.mu.RUnlock()
	for _, ref := range roots {
		report(ref)
	}
}

// MutatorRoots reports one stopped mutator's root set.
func (p *MarkPlan) MutatorRoots(id gc.MutatorID, report func(gc.ObjectRef)) {
	h := p.h
	h.mu.RLock()
	roots := append([]gc.ObjectRef(nil), h.mutatorRoots[id]...)
	h.mu.RUnlock()
	for _, ref := range roots {
		report(ref)
	}
}

// ScanObject visits every outgoing edge of a claimed object.
func (p *MarkPlan) ScanObject(ref gc.ObjectRef, visit func(gc.ObjectRef)) {
	h := p.h
	h.mu.RLock()
	obj, ok := h.objects[ref]
	h.mu.RUnlock()
	if !ok {
		panic("heap: scan of unknown object")
	}
	obj.scans.Add(1)
	for _, edge := range obj.edges {
		visit(edge)
	}
}

// TryClaim is the per-object atomic claim: a single compare-and-set on the
// mark word. Exactly one of several racing workers wins.
func (p *MarkPlan) TryClaim(ref gc.ObjectRef) bool {
	h := p.h
	h.mu.RLock()
	obj, ok := h.objects[ref]
	h.mu.RUnlock()
	if !ok {
		panic("heap: claim of unknown object")
	}
	return obj.mark.CompareAndSwap(0, 1)
}

// ProcessWeakRefs clears weak references whose targets stayed unmarked.
// One pass suffices for this policy, so it never asks to run again.
func (p *MarkPlan) ProcessWeakRefs(_ *gc.ObjectQueue, _ *scheduler.Worker) bool {
	h := p.h
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.weakRefs[:0]
	for _, ref := range h.weakRefs {
		if obj, ok := h.objects[ref]; ok && obj.mark.Load() != 0 {
			kept = append(kept, ref)
		}
	}
	cleared := len(h.weakRefs) - len(kept)
	h.weakRefs = kept
	if cleared > 0 {
		slog.Debug("Weak references cleared", "count", cleared)
	}
	return false
}

// HasFinalizables reports whether any finalizable candidates are pending.
func (p *MarkPlan) HasFinalizables() bool {
	h := p.h
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.finalizables) > 0
}

// Finalize revives dead finalizable objects by tracing them: each gets one
// extra cycle of life, then leaves the candidate list.
func (p *MarkPlan) Finalize(q *gc.ObjectQueue, w *scheduler.Worker) {
	h := p.h
	h.mu.Lock()
	var revive []gc.ObjectRef
	kept := h.finalizables[:0]
	for _, ref := range h.finalizables {
		obj, ok := h.objects[ref]
		if !ok {
			continue
		}
		if obj.mark.Load() == 0 {
			revive = append(revive, ref)
			continue
		}
		kept = append(kept, ref)
	}
	h.finalizables = kept
	h.mu.Unlock()
	for _, ref := range revive {
		q.Trace(w, ref)
	}
	if len(revive) > 0 {
		slog.Debug("Finalizable objects revived", "count", len(revive))
	}
}
