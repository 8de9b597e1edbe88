package scheduler

import (
	"log/slog"
	"sync"
)

// Goal describes what the worker pool is working towards. All workers share
// a single goal at a time; the last parked worker transitions it.
type Goal int

const (
	// GoalIdle means no collection is running; workers park indefinitely.
	GoalIdle Goal = iota
	// GoalCollect means workers drive the current cycle's buckets to
	// completion.
	GoalCollect
	// GoalExit means worker threads terminate on their next wake.
	GoalExit
)

func (g Goal) String() string {
	switch g {
	case GoalIdle:
		return "Idle"
	case GoalCollect:
		return "Collect"
	case GoalExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// goals holds the current goal and the outstanding requests from mutators.
// Workers respond to requests only when the current goal is GoalIdle; exit
// takes priority over collection.
type goals struct {
	current          Goal
	exitRequested    bool
	collectRequested bool
}

// setRequest records a request for the given goal. Returns true if the
// request was not already outstanding.
func (g *goals) setRequest(goal Goal) bool {
	switch goal {
	case GoalExit:
		if g.exitRequested {
			return false
		}
		g.exitRequested = true
		return true
	case GoalCollect:
		if g.collectRequested {
			return false
		}
		g.collectRequested = true
		return true
	default:
		panic("scheduler: cannot request the idle goal")
	}
}

// lastParkedAction is returned by the last-parked callback and decides how
// many workers wake up afterwards.
type lastParkedAction int

const (
	// parkSelf: the last parked worker waits too, until more work arrives.
	parkSelf lastParkedAction = iota
	// wakeSelf: only the last parked worker resumes polling.
	wakeSelf
	// wakeAll: every parked worker resumes polling.
	wakeAll
)

// Monitor synchronizes the worker pool: it parks idle workers, identifies
// the last worker to park, and carries goal requests from mutators.
//
// The decisive property: a worker holding a packet is by definition not
// parked, so "all workers parked" observed under the monitor mutex is an
// atomic snapshot of "no packets queued anywhere AND none in flight". That
// snapshot is what makes stage advancement and cycle-termination detection
// race-free.
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond

	workerCount int
	parked      int
	goals       goals
}

// NewMonitor creates a monitor for a pool of workerCount workers.
func NewMonitor(workerCount int) *Monitor {
	m := &Monitor{workerCount: workerCount}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// MakeRequest records a goal request from outside the pool and wakes a
// worker to respond to it.
func (m *Monitor) MakeRequest(goal Goal) {
	m.mu.Lock()
	newly := m.goals.setRequest(goal)
	m.mu.Unlock()
	if newly {
		m.NotifyWork(false)
	}
}

// NotifyWork wakes one parked worker, or all of them. The monitor mutex is
// taken before signalling so that a notification cannot slip into the
// window between a parking worker's last poll and its wait; this is the
// no-lost-wakeup guarantee.
func (m *Monitor) NotifyWork(all bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if all {
		m.cond.Broadcast()
	} else {
		m.cond.Signal()
	}
}

// ParkAndWait parks the calling worker. If it is the last worker to park,
// onLastParked runs while the monitor mutex is held and decides whether the
// worker waits, resumes alone, or wakes the whole pool. Returns true if the
// worker should exit.
func (m *Monitor) ParkAndWait(ordinal int, onLastParked func(g *goals) lastParkedAction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.parked++
	allParked := m.parked == m.workerCount
	slog.Debug("Worker parked",
		"worker", ordinal,
		"parked", m.parked,
		"total", m.workerCount)

	shouldWait := true
	if allParked {
		switch onLastParked(&m.goals) {
		case parkSelf:
			shouldWait = true
		case wakeSelf:
			shouldWait = false
		case wakeAll:
			shouldWait = false
			m.cond.Broadcast()
		}
	}

	if shouldWait {
		m.cond.Wait()
	}

	m.parked--
	slog.Debug("Worker unparked", "worker", ordinal, "parked", m.parked)

	return m.goals.current == GoalExit
}

// currentGoal returns the pool's current goal.
func (m *Monitor) currentGoal() Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goals.current
}
