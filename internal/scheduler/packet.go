package scheduler

// Packet is the smallest schedulable unit of collection work. A packet is
// single-owner once dequeued by a worker, runs to completion without
// suspension, and is discarded afterwards. Packets may enqueue further
// packets into any open or not-yet-opened bucket while running.
type Packet interface {
	Run(w *Worker)
}

// PacketFunc adapts a plain function to the Packet interface.
type PacketFunc func(w *Worker)

// Run calls f.
func (f PacketFunc) Run(w *Worker) { f(w) }
