package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoalString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		goal Goal
		want string
	}{
		{name: "idle", goal: GoalIdle, want: "Idle"},
		{name: "collect", goal: GoalCollect, want: "Collect"},
		{name: "exit", goal: GoalExit, want: "Exit"},
		{name: "unknown", goal: Goal(99), want: "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.goal.String())
		})
	}
}

func TestGoalsSetRequest(t *testing.T) {
	t.Parallel()

	t.Run("collect_request_collapses", func(t *testing.T) {
		t.Parallel()
		g := &goals{}
		assert.True(t, g.setRequest(GoalCollect))
		assert.False(t, g.setRequest(GoalCollect))
		assert.True(t, g.collectRequested)
	})

	t.Run("exit_request_collapses", func(t *testing.T) {
		t.Parallel()
		g := &goals{}
		assert.True(t, g.setRequest(GoalExit))
		assert.False(t, g.setRequest(GoalExit))
		assert.True(t, g.exitRequested)
	})

	t.Run("exit_and_collect_independent", func(t *testing.T) {
		t.Parallel()
		g := &goals{}
		assert.True(t, g.setRequest(GoalCollect))
		assert.True(t, g.setRequest(GoalExit))
	})

	t.Run("idle_request_panics", func(t *testing.T) {
		t.Parallel()
		g := &goals{}
		assert.Panics(t, func() { g.setRequest(GoalIdle) })
	})
}

func TestParkAndWaitLastParked(t *testing.T) {
	t.Parallel()

	t.Run("wake_self_returns_without_waiting", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(1)
		ran := false
		exit := m.ParkAndWait(0, func(_ *goals) lastParkedAction {
			ran = true
			return wakeSelf
		})
		assert.True(t, ran)
		assert.False(t, exit)
	})

	t.Run("exit_goal_reported_after_unpark", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(1)
		exit := m.ParkAndWait(0, func(g *goals) lastParkedAction {
			g.current = GoalExit
			return wakeSelf
		})
		assert.True(t, exit)
	})

	t.Run("callback_only_runs_for_last_parked", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor(2)

		var mu sync.Mutex
		var callbackOrdinals []int
		record := func(ordinal int, action lastParkedAction) func(*goals) lastParkedAction {
			return func(g *goals) lastParkedAction {
				mu.Lock()
				callbackOrdinals = append(callbackOrdinals, ordinal)
				mu.Unlock()
				g.current = GoalExit
				return action
			}
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			// First parker: waits until the second parker wakes the pool.
			exit := m.ParkAndWait(0, record(0, parkSelf))
			assert.True(t, exit)
		}()

		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.parked == 1
		}, time.Second, time.Millisecond)

		exit := m.ParkAndWait(1, record(1, wakeAll))
		assert.True(t, exit)
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1}, callbackOrdinals)
	})
}

func TestMakeRequestWakesParkedWorker(t *testing.T) {
	t.Parallel()
	m := NewMonitor(1)

	woke := make(chan struct{})
	go func() {
		m.ParkAndWait(0, func(_ *goals) lastParkedAction {
			return parkSelf
		})
		close(woke)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.parked == 1
	}, time.Second, time.Millisecond)

	m.MakeRequest(GoalCollect)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("parked worker was not woken by the request")
	}
	assert.Equal(t, GoalIdle, m.currentGoal())

	m.mu.Lock()
	assert.True(t, m.goals.collectRequested)
	m.mu.Unlock()
}

func TestNotifyWorkBeforePark(t *testing.T) {
	t.Parallel()
	// A notification sent while no worker is parked must not be required for
	// progress: the worker re-polls before waiting, so work published before
	// the park is found by the poll loop, not by the signal. This test pins
	// the complementary property: a signal sent after the worker parked
	// always lands.
	m := NewMonitor(1)
	for i := 0; i < 100; i++ {
		woke := make(chan struct{})
		go func() {
			m.ParkAndWait(0, func(_ *goals) lastParkedAction { return parkSelf })
			close(woke)
		}()
		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.parked == 1
		}, time.Second, 100*time.Microsecond)
		m.NotifyWork(false)
		select {
		case <-woke:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: notification lost", i)
		}
	}
}
