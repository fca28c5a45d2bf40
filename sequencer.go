package transcoder

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type queuedSample struct {
	kind   SampleType
	sample *Sample
}

// Sequencer is the single writer to the output muxer. It holds samples back
// until every enabled track kind has a determined format, then starts the
// muxer and writes samples in the order they were admitted.
//
// A Sequencer is owned by the goroutine that steps the pipelines.
type Sequencer struct {
	muxer        Muxer
	onDetermined func() error
	log          logrus.FieldLogger

	enabled  map[SampleType]bool
	formats  map[SampleType]*Format
	tracks   map[SampleType]int
	rotation int

	started bool
	queue   []queuedSample
}

// NewSequencer returns a sequencer writing to muxer. onDetermined, if not
// nil, runs once when all formats are known and before the muxer starts; an
// error from it keeps the gate closed.
func NewSequencer(muxer Muxer, onDetermined func() error, log logrus.FieldLogger) *Sequencer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sequencer{
		muxer:        muxer,
		onDetermined: onDetermined,
		log:          log,
		enabled:      make(map[SampleType]bool),
		formats:      make(map[SampleType]*Format),
		tracks:       make(map[SampleType]int),
	}
}

// RegisterExpectedTrack adds kind to the set of tracks the gate waits for.
func (s *Sequencer) RegisterExpectedTrack(kind SampleType) {
	if _, ok := s.enabled[kind]; !ok {
		s.enabled[kind] = true
	}
}

// SetTrackEnabled adds or removes a registered kind from the wait set.
func (s *Sequencer) SetTrackEnabled(kind SampleType, enabled bool) error {
	if s.started {
		return errors.Wrap(ErrInvalidState, "sequencer already started")
	}
	if _, ok := s.enabled[kind]; !ok {
		return errors.Wrapf(ErrInvalidArgument, "%s track not registered", kind)
	}
	s.enabled[kind] = enabled
	if !enabled {
		delete(s.formats, kind)
		return s.maybeStart()
	}
	return nil
}

// SetOrientationHint records the rotation applied when the muxer starts.
func (s *Sequencer) SetOrientationHint(degrees int) {
	s.rotation = degrees
}

// OnFormatDetermined records the output format of kind. The call that
// completes the set opens the gate.
func (s *Sequencer) OnFormatDetermined(kind SampleType, format *Format) error {
	if !s.enabled[kind] {
		return errors.Wrapf(ErrInvalidArgument, "%s track not expected", kind)
	}
	if _, ok := s.formats[kind]; ok {
		return errors.Wrapf(ErrInvalidState, "%s format already determined", kind)
	}
	if format == nil {
		return errors.Wrapf(ErrInvalidArgument, "nil %s format", kind)
	}
	s.formats[kind] = format.Clone()
	s.log.WithFields(logrus.Fields{"track": kind, "format": format}).Debug("output format determined")
	return s.maybeStart()
}

// DeterminedFormat returns the format reported for kind, or nil.
func (s *Sequencer) DeterminedFormat(kind SampleType) *Format {
	return s.formats[kind]
}

func (s *Sequencer) maybeStart() error {
	if s.started {
		return nil
	}
	n := 0
	for _, kind := range sampleTypes {
		if !s.enabled[kind] {
			continue
		}
		if s.formats[kind] == nil {
			return nil
		}
		n++
	}
	if n == 0 {
		return nil
	}

	if s.onDetermined != nil {
		if err := s.onDetermined(); err != nil {
			return err
		}
	}

	for _, kind := range sampleTypes {
		if !s.enabled[kind] {
			continue
		}
		idx, err := s.muxer.AddTrack(s.formats[kind])
		if err != nil {
			return errors.Wrapf(err, "add %s track", kind)
		}
		s.tracks[kind] = idx
	}
	if s.rotation != 0 {
		if err := s.muxer.SetOrientationHint(s.rotation); err != nil {
			return errors.Wrap(err, "set orientation hint")
		}
	}
	if err := s.muxer.Start(); err != nil {
		return errors.Wrap(err, "start muxer")
	}
	s.started = true

	s.log.WithFields(logrus.Fields{"tracks": n, "buffered": len(s.queue)}).Debug("output gate open")

	queue := s.queue
	s.queue = nil
	for _, q := range queue {
		if err := s.write(q.kind, q.sample); err != nil {
			return err
		}
	}
	return nil
}

// WriteSample admits a sample of kind. Before the gate opens the sample is
// queued and owned by the sequencer; afterwards it goes to the muxer.
// Empty end-of-stream markers are consumed.
func (s *Sequencer) WriteSample(kind SampleType, sample *Sample) error {
	if sample == nil {
		return errors.Wrapf(ErrInvalidArgument, "nil %s sample", kind)
	}
	if !s.enabled[kind] {
		return errors.Wrapf(ErrInvalidArgument, "%s track not enabled", kind)
	}
	if sample.IsEndOfStream() && len(sample.Data) == 0 {
		return nil
	}
	if !s.started {
		s.queue = append(s.queue, queuedSample{kind: kind, sample: sample})
		return nil
	}
	return s.write(kind, sample)
}

func (s *Sequencer) write(kind SampleType, sample *Sample) error {
	if err := s.muxer.WriteSample(s.tracks[kind], sample); err != nil {
		return errors.Wrapf(err, "write %s sample", kind)
	}
	return nil
}

// Started reports whether the gate has opened.
func (s *Sequencer) Started() bool { return s.started }

// Pending returns the number of samples waiting for the gate.
func (s *Sequencer) Pending() int { return len(s.queue) }
