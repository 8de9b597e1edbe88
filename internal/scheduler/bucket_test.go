package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopPacket() Packet {
	return PacketFunc(func(_ *Worker) {})
}

// markerPacket is an inert packet with identity, for ordering assertions.
type markerPacket struct{ id int }

func (*markerPacket) Run(_ *Worker) {}

func TestBucketGate(t *testing.T) {
	t.Parallel()

	t.Run("closed_bucket_accepts_but_does_not_serve", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageClosure, NewMonitor(1), false)
		w := &Worker{}
		b.Add(noopPacket())
		assert.False(t, b.IsOpen())
		assert.False(t, b.IsEmpty())
		assert.Nil(t, b.poll(w))
	})

	t.Run("open_bucket_serves", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageClosure, NewMonitor(1), false)
		w := &Worker{}
		b.Add(noopPacket())
		b.open()
		assert.NotNil(t, b.poll(w))
	})

	t.Run("drained_means_open_and_empty", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageClosure, NewMonitor(1), false)
		assert.False(t, b.IsDrained(), "closed bucket is not drained")
		b.open()
		assert.True(t, b.IsDrained())
		b.Add(noopPacket())
		assert.False(t, b.IsDrained())
	})
}

func TestBucketPollBatching(t *testing.T) {
	t.Parallel()
	b := newBucket(StageClosure, NewMonitor(1), true)
	w := &Worker{}

	packets := make([]Packet, 6)
	for i := range packets {
		packets[i] = noopPacket()
	}
	b.BulkAdd(packets)

	// One poll takes at most pollBatch packets: the first is returned, the
	// extras land on the worker's local deque.
	p := b.poll(w)
	require.NotNil(t, p)

	local := 0
	for w.pop() != nil {
		local++
	}
	assert.Equal(t, pollBatch-1, local)

	b.mu.Lock()
	remaining := len(b.queue)
	b.mu.Unlock()
	assert.Equal(t, len(packets)-pollBatch, remaining)
}

func TestBucketSealed(t *testing.T) {
	t.Parallel()

	t.Run("add_panics", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StagePrepare, NewMonitor(1), true)
		b.seal()
		assert.Panics(t, func() { b.Add(noopPacket()) })
	})

	t.Run("bulk_add_panics", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StagePrepare, NewMonitor(1), true)
		b.seal()
		assert.Panics(t, func() { b.BulkAdd([]Packet{noopPacket()}) })
	})

	t.Run("empty_bulk_add_on_sealed_is_noop", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StagePrepare, NewMonitor(1), true)
		b.seal()
		assert.NotPanics(t, func() { b.BulkAdd(nil) })
	})
}

func TestBucketSentinel(t *testing.T) {
	t.Parallel()

	t.Run("one_shot", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageWeakRefs, NewMonitor(1), true)
		b.SetSentinel(noopPacket())
		assert.True(t, b.maybeScheduleSentinel())
		assert.False(t, b.IsEmpty(), "sentinel moved into the queue")
		assert.False(t, b.maybeScheduleSentinel(), "sentinel is consumed")
	})

	t.Run("no_sentinel", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageWeakRefs, NewMonitor(1), true)
		assert.False(t, b.maybeScheduleSentinel())
	})
}

func TestBucketReset(t *testing.T) {
	t.Parallel()

	t.Run("returns_to_closed_unsealed", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageClosure, NewMonitor(1), true)
		b.seal()
		b.reset()
		assert.False(t, b.IsOpen())
		assert.False(t, b.sealed.Load())
		assert.NotPanics(t, func() { b.Add(noopPacket()) })
	})

	t.Run("clears_armed_sentinel", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageFinalRefs, NewMonitor(1), true)
		b.SetSentinel(noopPacket())
		b.reset()
		assert.False(t, b.maybeScheduleSentinel(), "sentinel must not leak into the next cycle")
	})

	t.Run("non_empty_panics", func(t *testing.T) {
		t.Parallel()
		b := newBucket(StageClosure, NewMonitor(1), true)
		b.Add(noopPacket())
		assert.Panics(t, func() { b.reset() })
	})
}

func TestWorkerDeque(t *testing.T) {
	t.Parallel()
	w := &Worker{}

	first := &markerPacket{id: 1}
	second := &markerPacket{id: 2}
	third := &markerPacket{id: 3}
	w.push(first)
	w.push(second)
	w.push(third)

	// Owner pops from the tail, thieves steal from the head.
	assert.Same(t, third, w.pop())
	assert.Same(t, first, w.steal())
	assert.Same(t, second, w.pop())
	assert.Nil(t, w.pop())
	assert.Nil(t, w.steal())
}
