package transcoder

import "sync/atomic"

// PipelineState is the lifecycle state of a track pipeline.
type PipelineState int32

const (
	PipelineStateUninitialized PipelineState = iota // constructed, Setup not called
	PipelineStateSetup                              // codecs configured, output format reported where known
	PipelineStateRunning                            // moving samples
	PipelineStateDraining                           // input exhausted, flushing buffered work
	PipelineStateFinished                           // end of stream written
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateUninitialized:
		return "uninitialized"
	case PipelineStateSetup:
		return "setup"
	case PipelineStateRunning:
		return "running"
	case PipelineStateDraining:
		return "draining"
	case PipelineStateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// TrackPipeline moves one track from the demuxer to the output sequencer.
// The engine drives every pipeline from a single goroutine through Step.
type TrackPipeline interface {
	// Setup configures codecs and reports the output format when it is known
	// up front. Called once, before the first Step.
	Setup() error

	// Step performs a bounded unit of work and reports whether anything moved.
	// It never blocks on I/O for longer than one sample.
	Step() (bool, error)

	// IsFinished reports whether end of stream has been written.
	IsFinished() bool

	// DeterminedFormat returns the actual output format, or nil before it is
	// known.
	DeterminedFormat() *Format

	// WrittenPresentationTimeUs returns the PTS of the last sample handed to
	// the sequencer.
	WrittenPresentationTimeUs() int64

	State() PipelineState

	// Release frees codecs and helpers. Safe to call more than once.
	Release() error
}

// pipelineState is the shared state holder used by the pipeline variants.
// State is only mutated from the stepping goroutine but may be read from any.
type pipelineState struct {
	state   atomic.Int32
	written atomic.Int64
}

func (p *pipelineState) State() PipelineState {
	return PipelineState(p.state.Load())
}

func (p *pipelineState) set(s PipelineState) {
	p.state.Store(int32(s))
}

func (p *pipelineState) IsFinished() bool {
	return p.State() == PipelineStateFinished
}

func (p *pipelineState) WrittenPresentationTimeUs() int64 {
	return p.written.Load()
}
