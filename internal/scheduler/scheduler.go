package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Driver is implemented by the collection engine. The scheduler calls it at
// the two points where a cycle's ownership changes hands: when a collection
// request is accepted (ScheduleCollection runs as the bootstrap packet of
// the cycle) and when every bucket has drained with all workers parked
// (CollectionFinished, invoked by the last parked worker).
type Driver interface {
	ScheduleCollection(w *Worker)
	CollectionFinished(w *Worker)
}

// Scheduler owns the work buckets and the worker pool. It decides when a
// bucket's gate may open, publishes newly opened work to workers, and parks
// and wakes workers through the Monitor.
type Scheduler struct {
	buckets [stageCount]*Bucket
	workers []*Worker
	monitor *Monitor
	driver  Driver

	packetsExecuted atomic.Uint64

	wg sync.WaitGroup
}

// New creates a scheduler with the given number of workers. The driver is
// bound later via StartWorkers, once the engine owning the scheduler is
// fully constructed.
func New(numWorkers int) *Scheduler {
	if numWorkers <= 0 {
		panic("scheduler: worker count must be positive")
	}
	s := &Scheduler{
		monitor: NewMonitor(numWorkers),
	}
	for i := range s.buckets {
		stage := Stage(i)
		s.buckets[i] = newBucket(stage, s.monitor, stage == StageUnconstrained)
	}

	// Wire drain conditions: each stop-the-world stage after the first
	// opens only when all earlier stages have drained. The first
	// stop-the-world stage is opened by NotifyMutatorsPaused instead.
	openStages := []Stage{firstStopTheWorldStage}
	for i := range s.buckets {
		stage := Stage(i)
		if stage == StageUnconstrained || stage == firstStopTheWorldStage {
			continue
		}
		prior := make([]Stage, len(openStages))
		copy(prior, openStages)
		s.buckets[i].canOpen = func(s *Scheduler) bool {
			return s.bucketsDrained(prior)
		}
		openStages = append(openStages, stage)
	}

	s.workers = make([]*Worker, numWorkers)
	for i := range s.workers {
		s.workers[i] = &Worker{ordinal: i, sched: s}
	}
	return s
}

// NumWorkers returns the size of the worker pool.
func (s *Scheduler) NumWorkers() int { return len(s.workers) }

// PacketsExecuted returns the total number of packets executed since the
// workers started.
func (s *Scheduler) PacketsExecuted() uint64 { return s.packetsExecuted.Load() }

// Bucket returns the bucket for the given stage.
func (s *Scheduler) Bucket(stage Stage) *Bucket { return s.buckets[stage] }

// Add submits a packet to the bucket for the given stage. It never blocks.
func (s *Scheduler) Add(stage Stage, p Packet) {
	s.buckets[stage].Add(p)
}

// BulkAdd submits a batch of packets to the bucket for the given stage.
func (s *Scheduler) BulkAdd(stage Stage, ps []Packet) {
	s.buckets[stage].BulkAdd(ps)
}

// SetSkipCondition registers a predicate for the given stage. When the
// stage becomes eligible to open with an empty bucket and the predicate
// returns true, the stage is skipped for the cycle.
func (s *Scheduler) SetSkipCondition(stage Stage, pred func() bool) {
	s.buckets[stage].skipWhen = pred
}

// StartWorkers binds the driver and spawns the worker goroutines. Workers
// persist across cycles until Shutdown.
func (s *Scheduler) StartWorkers(driver Driver) {
	if s.driver != nil {
		panic("scheduler: workers already started")
	}
	s.driver = driver
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}
	slog.Debug("Worker pool started", "workers", len(s.workers))
}

// RequestCollection asks the pool to schedule a collection cycle. Multiple
// requests collapse; the request is consumed by the last parked worker.
func (s *Scheduler) RequestCollection() {
	s.monitor.MakeRequest(GoalCollect)
}

// Shutdown asks all workers to exit and waits for them. A collection in
// progress finishes first; a cycle cannot be cancelled once started.
func (s *Scheduler) Shutdown() {
	s.monitor.MakeRequest(GoalExit)
	s.wg.Wait()
	slog.Debug("Worker pool stopped")
}

// NotifyMutatorsPaused opens the first stop-the-world bucket and wakes all
// workers. Called by the stop-mutators packet once every mutator has
// acknowledged the stop. This is the only gate that opens without all
// workers parked: it is safe because every later stage still requires the
// full drain condition.
func (s *Scheduler) NotifyMutatorsPaused() {
	first := s.buckets[firstStopTheWorldStage]
	if first.IsOpen() {
		panic("scheduler: first stop-the-world stage opened twice in one cycle")
	}
	first.open()
	s.monitor.NotifyWork(true)
}

// poll returns the next packet for w, parking the worker when no work is
// available anywhere. Returns ok=false when the worker should exit.
func (s *Scheduler) poll(w *Worker) (Packet, bool) {
	if p := s.pollOnce(w); p != nil {
		return p, true
	}
	return s.pollSlow(w)
}

// pollOnce tries every source of work once: the local deque, then peers'
// deques in round-robin order starting after self, then the open buckets.
func (s *Scheduler) pollOnce(w *Worker) Packet {
	if p := w.pop(); p != nil {
		return p
	}
	n := len(s.workers)
	for i := 1; i < n; i++ {
		peer := s.workers[(w.ordinal+i)%n]
		if p := peer.steal(); p != nil {
			return p
		}
	}
	for _, b := range s.buckets {
		if p := b.poll(w); p != nil {
			return p
		}
	}
	return nil
}

func (s *Scheduler) pollSlow(w *Worker) (Packet, bool) {
	for {
		if p := s.pollOnce(w); p != nil {
			return p, true
		}
		shouldExit := s.monitor.ParkAndWait(w.ordinal, func(g *goals) lastParkedAction {
			return s.onLastParked(w, g)
		})
		if shouldExit {
			return nil, false
		}
	}
}

// onLastParked runs with the monitor mutex held and every worker parked.
// It advances the stage graph, detects cycle termination, and responds to
// pending requests.
func (s *Scheduler) onLastParked(w *Worker, g *goals) lastParkedAction {
	switch g.current {
	case GoalCollect:
		if g.collectRequested {
			panic("scheduler: collection requested while a collection is in progress")
		}
		// All workers parked: every open bucket must have drained.
		s.assertOpenBucketsEmpty()
		if s.findMoreWork() {
			return wakeAll
		}
		s.driver.CollectionFinished(w)
		s.resetState()
		g.current = GoalIdle
		return s.respondToRequests(g)
	case GoalExit:
		panic(fmt.Sprintf("scheduler: worker %d parked while the pool is exiting", w.ordinal))
	default:
		return s.respondToRequests(g)
	}
}

// respondToRequests consumes the highest-priority pending request. Runs
// with the monitor mutex held and the current goal idle.
func (s *Scheduler) respondToRequests(g *goals) lastParkedAction {
	if g.exitRequested {
		g.exitRequested = false
		g.current = GoalExit
		return wakeAll
	}
	if g.collectRequested {
		g.collectRequested = false
		g.current = GoalCollect
		// Monitor mutex is held: enqueue without notifying and let the
		// last parked worker pick the packet up itself.
		s.buckets[StageUnconstrained].add(PacketFunc(s.driver.ScheduleCollection), false)
		return wakeSelf
	}
	return parkSelf
}

// findMoreWork schedules bucket sentinels or opens the next eligible
// buckets. Returns true if any new packets became available.
func (s *Scheduler) findMoreWork() bool {
	if s.scheduleSentinels() {
		return true
	}
	return s.updateBuckets()
}

// scheduleSentinels schedules the sentinel of every drained open bucket.
func (s *Scheduler) scheduleSentinels() bool {
	scheduled := false
	for _, b := range s.buckets {
		if b.IsOpen() && b.maybeScheduleSentinel() {
			slog.Debug("Sentinel scheduled", "stage", b.stage)
			scheduled = true
		}
	}
	return scheduled
}

// updateBuckets opens buckets whose drain conditions are met, sealing the
// drained buckets the graph advances past. Stages whose skip predicate
// holds are sealed without opening. Only called with all workers parked.
// Returns true once an opened bucket has packets to run.
func (s *Scheduler) updateBuckets() bool {
	for i := range s.buckets {
		b := s.buckets[i]
		if b.stage == StageUnconstrained || b.IsOpen() || b.sealed.Load() {
			continue
		}
		if b.canOpen == nil || !b.canOpen(s) {
			continue
		}
		if b.skipWhen != nil && b.IsEmpty() && b.skipWhen() {
			b.seal()
			slog.Debug("Stage skipped", "stage", b.stage)
			continue
		}
		s.sealBucketsBefore(b.stage)
		b.open()
		slog.Debug("Stage opened", "stage", b.stage)
		if !b.IsEmpty() || b.maybeScheduleSentinel() {
			return true
		}
	}
	return false
}

// sealBucketsBefore seals every drained stop-the-world bucket ordered
// before the given stage. Submissions to a sealed bucket panic, enforcing
// that late-produced work is rerouted to the current or a later stage.
func (s *Scheduler) sealBucketsBefore(stage Stage) {
	for i := int(firstStopTheWorldStage); i < int(stage); i++ {
		b := s.buckets[i]
		if b.IsOpen() && !b.sealed.Load() {
			b.seal()
		}
	}
}

// bucketsDrained reports whether every listed stage has drained.
func (s *Scheduler) bucketsDrained(stages []Stage) bool {
	for _, st := range stages {
		b := s.buckets[st]
		if !b.IsDrained() && !b.sealed.Load() {
			return false
		}
	}
	return true
}

// assertOpenBucketsEmpty panics if any open bucket still has packets while
// all workers are parked. That state means a stage failed to drain or a
// wake-up was lost; it cannot be recovered from.
func (s *Scheduler) assertOpenBucketsEmpty() {
	for _, b := range s.buckets {
		if b.IsOpen() && !b.IsEmpty() {
			panic(fmt.Sprintf("scheduler: bucket %s is open and non-empty with all workers parked", b.stage))
		}
	}
}

// resetState closes and unseals every stop-the-world bucket for the next
// cycle. The unconstrained bucket stays open.
func (s *Scheduler) resetState() {
	for _, b := range s.buckets {
		if b.stage == StageUnconstrained {
			continue
		}
		b.reset()
	}
}
