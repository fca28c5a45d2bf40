package transcoder

import (
	"math"
	"sync/atomic"
)

// ProgressUnknown is reported when the input duration is not known.
const ProgressUnknown = -1.0

// ProgressFunc receives progress in [0, 1], or ProgressUnknown. It is called
// on the goroutine running the engine.
type ProgressFunc func(progress float64)

// progressState is a float64 written by one goroutine and read by any.
type progressState struct {
	bits atomic.Uint64
}

func (p *progressState) Load() float64 {
	return math.Float64frombits(p.bits.Load())
}

func (p *progressState) Store(v float64) {
	p.bits.Store(math.Float64bits(v))
}

// trackProgress is the completed fraction of one pipeline.
func trackProgress(p TrackPipeline, durationUs int64) float64 {
	if p.IsFinished() {
		return 1
	}
	if durationUs <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, float64(p.WrittenPresentationTimeUs())/float64(durationUs)))
}

// aggregateProgress is the unweighted mean over the pipelines.
func aggregateProgress(pipelines []TrackPipeline, durationUs int64) float64 {
	if len(pipelines) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pipelines {
		sum += trackProgress(p, durationUs)
	}
	return sum / float64(len(pipelines))
}
