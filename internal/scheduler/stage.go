// Package scheduler implements the parallel work-packet scheduler at the
// heart of the collection engine: stage-tagged work buckets with ordered
// gates, a pool of long-lived workers with work-stealing deques, and the
// park/wake protocol that lets the last parked worker advance a cycle.
package scheduler

// Stage identifies the pipeline stage a work bucket belongs to. Stages are
// ordered: a bucket only opens once every bucket of an earlier stage has
// fully drained.
type Stage int

const (
	// StageUnconstrained holds work that may run at any point of a cycle.
	// Its bucket is always open.
	StageUnconstrained Stage = iota

	// StagePrepare runs policy preparation and root scanning. It is the
	// first stop-the-world stage and opens when all mutators are paused.
	StagePrepare

	// StageClosure computes the transitive closure over the object graph.
	StageClosure

	// StageWeakRefs processes weak references after the strong closure is
	// complete. Its bucket carries a sentinel so the stage can drain
	// repeatedly if processing discovers more work.
	StageWeakRefs

	// StageFinalRefs revives finalizable objects. Skipped when the policy
	// has no finalizable candidates registered.
	StageFinalRefs

	// StageRelease runs policy release hooks and reclaim accounting.
	StageRelease

	// StageFinal is the terminal stage of a cycle.
	StageFinal

	stageCount
)

var stageNames = [stageCount]string{
	"Unconstrained",
	"Prepare",
	"Closure",
	"WeakRefs",
	"FinalRefs",
	"Release",
	"Final",
}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return "Unknown"
	}
	return stageNames[s]
}

// NumStages returns the number of stages in the graph, including
// StageUnconstrained.
func NumStages() int { return int(stageCount) }

// firstStopTheWorldStage is the stage opened when the world has stopped.
// All later stages open through drain conditions.
const firstStopTheWorldStage = StagePrepare
