package scheduler

import "sync"

// Worker is one long-lived member of the pool. Each worker owns a local
// deque: the owner pushes and pops at the tail for locality, peers steal
// from the head. Workers are created once and persist across collection
// cycles.
type Worker struct {
	ordinal int
	sched   *Scheduler

	mu    sync.Mutex
	local []Packet
}

// Ordinal returns the worker's index within the pool.
func (w *Worker) Ordinal() int { return w.ordinal }

// Scheduler returns the scheduler this worker belongs to.
func (w *Worker) Scheduler() *Scheduler { return w.sched }

// Add submits a packet to the bucket for the given stage. It never blocks.
func (w *Worker) Add(stage Stage, p Packet) {
	w.sched.Add(stage, p)
}

// push appends a packet to the tail of the local deque.
func (w *Worker) push(p Packet) {
	w.mu.Lock()
	w.local = append(w.local, p)
	w.mu.Unlock()
}

// pop removes a packet from the tail of the local deque.
func (w *Worker) pop() Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.local)
	if n == 0 {
		return nil
	}
	p := w.local[n-1]
	w.local[n-1] = nil
	w.local = w.local[:n-1]
	return p
}

// steal removes a packet from the head of the deque on behalf of another
// worker. Only peers call steal; the owner never takes from the head.
func (w *Worker) steal() Packet {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.local) == 0 {
		return nil
	}
	p := w.local[0]
	w.local[0] = nil
	w.local = w.local[1:]
	return p
}

// run is the worker loop: poll for a packet, execute it, repeat until the
// pool's goal becomes GoalExit.
func (w *Worker) run() {
	for {
		p, ok := w.sched.poll(w)
		if !ok {
			return
		}
		p.Run(w)
		w.sched.packetsExecuted.Add(1)
	}
}
