package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// pollBatch is the number of packets a worker may take from a shared bucket
// in one poll. The first packet is returned to the worker, the remainder go
// to its local deque. Batching amortizes synchronization on the hot path and
// has no effect on ordering guarantees.
const pollBatch = 4

// Bucket is a gated multi-producer/multi-consumer queue of packets tagged
// with one pipeline stage. A bucket transitions closed to open at most once
// per cycle, and only after every bucket of an earlier stage has drained.
// Once the scheduler has advanced past a drained bucket it is sealed:
// submitting to a sealed bucket is a contract violation and panics.
type Bucket struct {
	stage   Stage
	monitor *Monitor

	active atomic.Bool
	sealed atomic.Bool

	mu    sync.Mutex
	queue []Packet

	// canOpen is the drain condition wired by the scheduler: all buckets of
	// earlier stages have drained. Evaluated only when all workers are
	// parked.
	canOpen func(s *Scheduler) bool

	// skipWhen, if set, is evaluated when the bucket becomes eligible to
	// open. If it returns true and the bucket is empty, the stage is
	// skipped for this cycle instead of opened.
	skipWhen func() bool

	sentinelMu sync.Mutex
	sentinel   Packet
}

func newBucket(stage Stage, monitor *Monitor, open bool) *Bucket {
	b := &Bucket{stage: stage, monitor: monitor}
	b.active.Store(open)
	return b
}

// Stage returns the pipeline stage this bucket is tagged with.
func (b *Bucket) Stage() Stage { return b.stage }

// IsOpen reports whether the bucket's gate is open.
func (b *Bucket) IsOpen() bool { return b.active.Load() }

// IsEmpty reports whether the bucket holds no queued packets.
func (b *Bucket) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) == 0
}

// IsDrained reports whether the bucket is open and empty. Whether packets
// from this bucket are still in flight is established separately: buckets
// are only inspected for drainage while every worker is parked.
func (b *Bucket) IsDrained() bool {
	return b.active.Load() && b.IsEmpty()
}

// Add enqueues one packet and wakes a worker. It never blocks.
func (b *Bucket) Add(p Packet) {
	b.add(p, true)
}

// BulkAdd enqueues a batch of packets and wakes all workers.
func (b *Bucket) BulkAdd(ps []Packet) {
	if len(ps) == 0 {
		return
	}
	b.checkSealed()
	b.mu.Lock()
	b.queue = append(b.queue, ps...)
	b.mu.Unlock()
	b.monitor.NotifyWork(true)
}

func (b *Bucket) add(p Packet, notify bool) {
	b.checkSealed()
	b.mu.Lock()
	b.queue = append(b.queue, p)
	b.mu.Unlock()
	if notify {
		b.monitor.NotifyWork(false)
	}
}

func (b *Bucket) checkSealed() {
	if b.sealed.Load() {
		panic(fmt.Sprintf("scheduler: submission to %s after the stage graph advanced past it", b.stage))
	}
}

// poll moves up to pollBatch packets out of the bucket. The first is
// returned, any extras are pushed onto w's local deque. Returns nil if the
// bucket is closed or empty.
func (b *Bucket) poll(w *Worker) Packet {
	if !b.active.Load() {
		return nil
	}
	b.mu.Lock()
	n := len(b.queue)
	if n == 0 {
		b.mu.Unlock()
		return nil
	}
	take := pollBatch
	if take > n {
		take = n
	}
	batch := b.queue[n-take:]
	first := batch[0]
	extras := batch[1:]
	for i := range batch {
		batch[i] = nil
	}
	b.queue = b.queue[:n-take]
	b.mu.Unlock()
	for _, p := range extras {
		w.push(p)
	}
	return first
}

// SetSentinel attaches a packet to be scheduled the next time this open
// bucket drains. The sentinel is one-shot; the packet may re-arm it to
// iterate the stage again.
func (b *Bucket) SetSentinel(p Packet) {
	b.sentinelMu.Lock()
	b.sentinel = p
	b.sentinelMu.Unlock()
}

// maybeScheduleSentinel moves the sentinel, if any, into the drained bucket.
// Called with all workers parked. Returns true if a packet was scheduled.
func (b *Bucket) maybeScheduleSentinel() bool {
	b.sentinelMu.Lock()
	p := b.sentinel
	b.sentinel = nil
	b.sentinelMu.Unlock()
	if p == nil {
		return false
	}
	b.add(p, false)
	return true
}

// open opens the gate. Only the last parked worker (or the stop-the-world
// notification for the first stage) opens buckets.
func (b *Bucket) open() {
	b.active.Store(true)
}

// seal permanently closes the bucket for the remainder of the cycle.
func (b *Bucket) seal() {
	b.sealed.Store(true)
}

// reset returns the bucket to its closed, unsealed state for the next
// cycle. The bucket must be empty.
func (b *Bucket) reset() {
	b.mu.Lock()
	if len(b.queue) != 0 {
		b.mu.Unlock()
		panic(fmt.Sprintf("scheduler: bucket %s reset while not empty", b.stage))
	}
	b.mu.Unlock()
	b.sentinelMu.Lock()
	b.sentinel = nil
	b.sentinelMu.Unlock()
	b.active.Store(false)
	b.sealed.Store(false)
}
