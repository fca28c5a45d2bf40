package transcoder

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PassThroughPipeline copies the samples of one track into the sequencer
// without touching them. Its output format is the input format.
type PassThroughPipeline struct {
	pipelineState

	demuxer   Demuxer
	sequencer *Sequencer
	track     int
	kind      SampleType
	format    *Format
	log       logrus.FieldLogger

	released bool
}

// NewPassThroughPipeline returns a pipeline for track of demuxer.
func NewPassThroughPipeline(d Demuxer, track int, kind SampleType, seq *Sequencer, log logrus.FieldLogger) *PassThroughPipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PassThroughPipeline{
		demuxer:   d,
		sequencer: seq,
		track:     track,
		kind:      kind,
		log:       log.WithField("track", kind),
	}
}

// Setup implements TrackPipeline.
func (p *PassThroughPipeline) Setup() error {
	if p.State() != PipelineStateUninitialized {
		return errors.Wrapf(ErrInvalidState, "setup in state %s", p.State())
	}
	f := p.demuxer.TrackFormat(p.track)
	if f == nil {
		return errors.Wrapf(ErrInvalidArgument, "no track %d", p.track)
	}
	p.format = f
	if err := p.sequencer.OnFormatDetermined(p.kind, f); err != nil {
		return err
	}
	p.set(PipelineStateSetup)
	p.log.WithField("format", f).Debug("pass-through pipeline set up")
	return nil
}

// Step implements TrackPipeline.
func (p *PassThroughPipeline) Step() (bool, error) {
	switch p.State() {
	case PipelineStateFinished:
		return false, nil
	case PipelineStateUninitialized:
		return false, errors.Wrap(ErrInvalidState, "step before setup")
	case PipelineStateSetup:
		p.set(PipelineStateRunning)
	case PipelineStateDraining:
		return p.finish()
	}

	track, sample, err := p.demuxer.PeekSample()
	if err == io.EOF {
		p.set(PipelineStateDraining)
		return p.finish()
	}
	if err != nil {
		return false, errors.Wrap(err, "read sample")
	}
	if track != p.track {
		return false, nil
	}

	if err := p.sequencer.WriteSample(p.kind, sample.Clone()); err != nil {
		return false, err
	}
	if err := p.demuxer.Advance(); err != nil && err != io.EOF {
		return false, errors.Wrap(err, "advance")
	}
	p.written.Store(sample.PTS)
	return true, nil
}

func (p *PassThroughPipeline) finish() (bool, error) {
	if err := p.sequencer.WriteSample(p.kind, endOfStreamSample(p.WrittenPresentationTimeUs())); err != nil {
		return false, err
	}
	p.set(PipelineStateFinished)
	p.log.Debug("pass-through pipeline finished")
	return true, nil
}

// DeterminedFormat implements TrackPipeline.
func (p *PassThroughPipeline) DeterminedFormat() *Format { return p.format }

// Release implements TrackPipeline. The demuxer is shared and released by
// its owner.
func (p *PassThroughPipeline) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	return nil
}
