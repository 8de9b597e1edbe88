package gc

import "github.com/memkit-go/memkit/internal/scheduler"

// DefaultObjectQueueCapacity bounds the per-worker frontier buffer. A full
// buffer is flushed into a new scan packet so uneven subgraphs rebalance
// across workers and memory stays bounded.
const DefaultObjectQueueCapacity = 512

// ObjectQueue is a bounded buffer of discovered-but-not-yet-scanned object
// references. Each scan packet owns one; the policy's weak-reference and
// finalization hooks trace revived objects through one as well.
//
// Trace claims, Flush publishes: a reference enters the queue only after
// winning the policy's atomic claim, so every object is scanned exactly
// once per cycle no matter how many workers discover it concurrently.
type ObjectQueue struct {
	e     *Engine
	stage scheduler.Stage
	refs  []ObjectRef
	cap   int
}

func (e *Engine) newObjectQueue(stage scheduler.Stage) *ObjectQueue {
	return &ObjectQueue{e: e, stage: stage, cap: e.queueCap}
}

// Trace claims ref for the current cycle and, if this caller won the claim,
// enqueues it for scanning. Losers discard the duplicate. Nil references
// are ignored.
func (q *ObjectQueue) Trace(w *scheduler.Worker, ref ObjectRef) {
	if ref == NilRef {
		return
	}
	if !q.e.plan.TryClaim(ref) {
		return
	}
	if q.refs == nil {
		q.refs = make([]ObjectRef, 0, q.cap)
	}
	q.refs = append(q.refs, ref)
	if len(q.refs) >= q.cap {
		q.Flush(w)
	}
}

// Flush turns the buffered references into a scan packet submitted to the
// queue's stage bucket, to be picked up by any idle worker.
func (q *ObjectQueue) Flush(w *scheduler.Worker) {
	if len(q.refs) == 0 {
		return
	}
	refs := q.refs
	q.refs = nil
	w.Add(q.stage, &scanPacket{e: q.e, stage: q.stage, refs: refs})
}

// scanPacket scans a batch of claimed objects, tracing each outgoing
// reference. Newly claimed objects feed back into the same stage until the
// frontier empties; the bucket's drain condition then closes the stage.
type scanPacket struct {
	e     *Engine
	stage scheduler.Stage
	refs  []ObjectRef
}

func (p *scanPacket) Run(w *scheduler.Worker) {
	q := p.e.newObjectQueue(p.stage)
	for _, ref := range p.refs {
		p.e.plan.ScanObject(ref, func(child ObjectRef) {
			q.Trace(w, child)
		})
	}
	q.Flush(w)
	if cs := p.e.cycle.Load(); cs != nil {
		cs.objectsScanned.Add(uint64(len(p.refs)))
	}
}

// rootScanPacket enumerates one root set (global, or one stopped mutator's)
// and seeds the closure stage. All root packets run in the prepare stage, so
// the closure bucket cannot open before every root has been reported. The
// gathered roots are not claimed here: claiming races with the policy's
// prepare hook resetting mark state, so it is deferred to the closure stage.
type rootScanPacket struct {
	e       *Engine
	mutator MutatorID
	global  bool
}

func (p *rootScanPacket) Run(w *scheduler.Worker) {
	var refs []ObjectRef
	report := func(ref ObjectRef) { refs = append(refs, ref) }
	if p.global {
		p.e.plan.GlobalRoots(report)
	} else {
		p.e.plan.MutatorRoots(p.mutator, report)
	}
	if len(refs) == 0 {
		return
	}
	w.Add(scheduler.StageClosure, &rootTracePacket{e: p.e, refs: refs})
}

// rootTracePacket claims and queues one gathered root set. It runs when the
// closure stage opens, strictly after every prepare packet has finished.
type rootTracePacket struct {
	e    *Engine
	refs []ObjectRef
}

func (p *rootTracePacket) Run(w *scheduler.Worker) {
	q := p.e.newObjectQueue(scheduler.StageClosure)
	for _, ref := range p.refs {
		q.Trace(w, ref)
	}
	q.Flush(w)
}
