package gc

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memkit-go/memkit/internal/scheduler"
)

// cycleState is the per-cycle bookkeeping owned by the engine. Created by
// the bootstrap packet, destroyed when the cycle completes; no packet
// survives past the cycle that created it and neither does this.
type cycleState struct {
	id    uuid.UUID
	gen   uint64
	start time.Time

	objectsScanned atomic.Uint64
	reclaimedBytes atomic.Uint64
	packetsAtStart uint64
}

// stopMutatorsPacket brings the world to a stop, seeds the prepare stage
// with the policy hook and one root-scan packet per root set, then opens
// the first stop-the-world bucket.
type stopMutatorsPacket struct {
	e *Engine
}

func (p *stopMutatorsPacket) Run(w *scheduler.Worker) {
	e := p.e
	cs := e.cycle.Load()
	e.barrier.RequestStop(cs.gen)

	sched := w.Scheduler()
	sched.Add(scheduler.StagePrepare, &preparePacket{e: e})
	for _, id := range e.barrier.StoppedMutators() {
		sched.Add(scheduler.StagePrepare, &rootScanPacket{e: e, mutator: id})
	}
	sched.Add(scheduler.StagePrepare, &rootScanPacket{e: e, global: true})

	sched.NotifyMutatorsPaused()
}

// preparePacket runs the policy's start-of-cycle hook.
type preparePacket struct {
	e *Engine
}

func (p *preparePacket) Run(_ *scheduler.Worker) {
	p.e.plan.Prepare()
}

// weakRefPacket is the sentinel of the weak-reference stage: it runs each
// time the stage drains and re-arms itself while the policy reports more
// work, letting the stage iterate to its own fixed point.
type weakRefPacket struct {
	e *Engine
}

func (p *weakRefPacket) Run(w *scheduler.Worker) {
	q := p.e.newObjectQueue(scheduler.StageWeakRefs)
	again := p.e.plan.ProcessWeakRefs(q, w)
	q.Flush(w)
	if again {
		w.Scheduler().Bucket(scheduler.StageWeakRefs).SetSentinel(&weakRefPacket{e: p.e})
	}
}

// finalizePacket lets the policy revive dead finalizable objects. The
// revival closure runs within the finalization stage.
type finalizePacket struct {
	e *Engine
}

func (p *finalizePacket) Run(w *scheduler.Worker) {
	q := p.e.newObjectQueue(scheduler.StageFinalRefs)
	p.e.plan.Finalize(q, w)
	q.Flush(w)
}

// releasePacket runs the policy's end-of-cycle hook and records how much
// memory the cycle reclaimed.
type releasePacket struct {
	e *Engine
}

func (p *releasePacket) Run(_ *scheduler.Worker) {
	reclaimed := p.e.plan.Release()
	p.e.cycle.Load().reclaimedBytes.Store(reclaimed)
}

// ScheduleCollection is the bootstrap of a cycle: it runs as the first
// packet after the last parked worker accepts a collection request, and
// populates the stage graph with the cycle's fixed packets.
func (e *Engine) ScheduleCollection(w *scheduler.Worker) {
	cs := &cycleState{
		id:             uuid.New(),
		gen:            e.nextGen.Add(1),
		start:          time.Now(),
		packetsAtStart: e.sched.PacketsExecuted(),
	}
	e.cycle.Store(cs)
	e.collecting.Store(true)
	slog.Info("Collection cycle starting",
		"cycle", cs.id,
		"generation", cs.gen,
		"workers", e.sched.NumWorkers())

	sched := w.Scheduler()
	sched.Add(scheduler.StageUnconstrained, &stopMutatorsPacket{e: e})
	// The reference stages run off sentinels: their packets fire when the
	// stage drains, so revived objects can re-populate the same stage.
	sched.Bucket(scheduler.StageWeakRefs).SetSentinel(&weakRefPacket{e: e})
	sched.Bucket(scheduler.StageFinalRefs).SetSentinel(&finalizePacket{e: e})
	sched.Add(scheduler.StageRelease, &releasePacket{e: e})
}

// CollectionFinished is called by the last parked worker once every bucket
// has drained: the cycle is complete. It settles the outcome, resumes the
// world, and releases the mutators blocked on the allocation bridge.
func (e *Engine) CollectionFinished(_ *scheduler.Worker) {
	cs := e.cycle.Load()
	elapsed := time.Since(cs.start)
	reclaimed := cs.reclaimedBytes.Load()
	scanned := cs.objectsScanned.Load()
	packets := e.sched.PacketsExecuted() - cs.packetsAtStart

	outcome := OutcomeCompleted
	if reclaimed == 0 {
		outcome = OutcomeOutOfMemory
	}

	e.metrics.RecordCycle(elapsed, scanned, packets)
	slog.Info("Collection cycle finished",
		"cycle", cs.id,
		"generation", cs.gen,
		"outcome", outcome,
		"reclaimed_bytes", reclaimed,
		"objects_scanned", scanned,
		"packets", packets,
		"elapsed", elapsed)

	e.collecting.Store(false)
	e.cycle.Store(nil)
	e.barrier.Resume(cs.gen)
	e.requester.cycleFinished(outcome)
}
