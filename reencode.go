package transcoder

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReencodePipeline decodes one video track, scales it when the decoded size
// differs from the requested one, and encodes it to the requested format.
//
// Each Step moves at most one unit through every stage, last stage first:
// encoder output to the sequencer, a decoded frame to the encoder, a demuxed
// sample to the decoder.
type ReencodePipeline struct {
	pipelineState

	demuxer   Demuxer
	sequencer *Sequencer
	codecs    CodecFactory
	track     int
	input     *Format
	request   *Format
	output    *Format
	log       logrus.FieldLogger

	decoder VideoDecoder
	encoder VideoEncoder
	scaler  *VideoScaler

	frames  []*VideoFrame
	encoded []*Sample
	// frames handed to the encoder
	fed int

	inputDone      bool
	encoderFlushed bool

	snapshotOpts SnapshotOptions
	snapshots    *SnapshotWriter
	nextSnapshot int64

	released bool
}

// NewReencodePipeline returns a pipeline encoding track of demuxer to
// request.
func NewReencodePipeline(d Demuxer, track int, request *Format, seq *Sequencer, codecs CodecFactory, snapshots SnapshotOptions, log logrus.FieldLogger) *ReencodePipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if codecs == nil {
		codecs = RegistryCodecs{}
	}
	return &ReencodePipeline{
		demuxer:      d,
		sequencer:    seq,
		codecs:       codecs,
		track:        track,
		request:      request.Clone(),
		snapshotOpts: snapshots,
		log:          log.WithField("track", SampleTypeVideo),
	}
}

// Setup implements TrackPipeline.
func (p *ReencodePipeline) Setup() error {
	if p.State() != PipelineStateUninitialized {
		return errors.Wrapf(ErrInvalidState, "setup in state %s", p.State())
	}
	p.input = p.demuxer.TrackFormat(p.track)
	if p.input == nil {
		return errors.Wrapf(ErrInvalidArgument, "no track %d", p.track)
	}

	dec, err := p.codecs.NewVideoDecoder(p.input)
	if err != nil {
		return errors.Wrapf(err, "create decoder for %s", p.input.MIME)
	}
	p.decoder = dec

	enc, err := p.codecs.NewVideoEncoder(p.request)
	if err != nil {
		return errors.Wrapf(err, "create encoder for %s", p.request.MIME)
	}
	p.encoder = enc

	if p.snapshotOpts.Enabled() {
		w, err := NewSnapshotWriter(p.snapshotOpts, p.log)
		if err != nil {
			p.log.WithError(err).Error("snapshots disabled")
		} else {
			p.snapshots = w
		}
	}

	p.set(PipelineStateSetup)
	p.log.WithFields(logrus.Fields{"input": p.input, "request": p.request}).Debug("re-encode pipeline set up")
	return nil
}

// Step implements TrackPipeline.
func (p *ReencodePipeline) Step() (bool, error) {
	switch p.State() {
	case PipelineStateFinished:
		return false, nil
	case PipelineStateUninitialized:
		return false, errors.Wrap(ErrInvalidState, "step before setup")
	case PipelineStateSetup:
		p.set(PipelineStateRunning)
	}

	moved, err := p.drainEncoder()
	if err != nil || p.IsFinished() {
		return moved, err
	}

	m, err := p.feedEncoder()
	if err != nil {
		return true, err
	}
	moved = moved || m

	m, err = p.feedDecoder()
	if err != nil {
		return true, err
	}
	return moved || m, nil
}

// drainEncoder hands one encoded sample to the sequencer, or writes end of
// stream once everything is flushed.
func (p *ReencodePipeline) drainEncoder() (bool, error) {
	if len(p.encoded) == 0 {
		if p.encoderFlushed {
			if err := p.sequencer.WriteSample(SampleTypeVideo, endOfStreamSample(p.WrittenPresentationTimeUs())); err != nil {
				return false, err
			}
			p.set(PipelineStateFinished)
			p.log.Debug("re-encode pipeline finished")
			return true, nil
		}
		return false, nil
	}

	sample := p.encoded[0]
	p.encoded[0] = nil
	p.encoded = p.encoded[1:]

	if p.output == nil {
		f, err := p.determineFormat(sample)
		if err != nil {
			return false, err
		}
		p.output = f
		if err := p.sequencer.OnFormatDetermined(SampleTypeVideo, f); err != nil {
			return false, err
		}
	}

	if err := p.sequencer.WriteSample(SampleTypeVideo, sample); err != nil {
		return false, err
	}
	p.written.Store(sample.PTS)
	return true, nil
}

// determineFormat builds the actual output format from the encoder's first
// sample. Encoders may pick a different size or rate than requested.
func (p *ReencodePipeline) determineFormat(first *Sample) (*Format, error) {
	if p.request.MIME != MIMEVideoAVC {
		return p.request.Clone(), nil
	}
	sps, pps, err := parameterSets(first.Data)
	if err != nil {
		return nil, errors.Wrap(err, "first encoder output")
	}
	f, err := formatFromH264(sps, pps)
	if err != nil {
		return nil, err
	}
	if f.FrameRate == 0 {
		f.FrameRate = p.request.FrameRate
	}
	f.BitRate = p.request.BitRate
	f.KeyframeInterval = p.request.KeyframeInterval
	f.Profile = p.request.Profile
	return f, nil
}

// feedEncoder encodes one decoded frame, or flushes the encoder once the
// decoder is drained.
func (p *ReencodePipeline) feedEncoder() (bool, error) {
	if len(p.frames) == 0 {
		if p.inputDone && !p.encoderFlushed {
			out, err := p.encoder.Flush()
			if err != nil {
				return false, errors.Wrap(err, "flush encoder")
			}
			p.encoded = append(p.encoded, out...)
			p.encoderFlushed = true
			return true, nil
		}
		return false, nil
	}

	frame := p.frames[0]
	p.frames[0] = nil
	p.frames = p.frames[1:]

	p.maybeSnapshot(frame)

	if frame.Width != p.request.Width || frame.Height != p.request.Height {
		if p.scaler == nil {
			p.scaler = NewVideoScaler(p.request.Width, p.request.Height, ScaleModeFill)
			p.log.WithFields(logrus.Fields{
				"from": [2]int{frame.Width, frame.Height},
				"to":   [2]int{p.request.Width, p.request.Height},
			}).Debug("scaling decoded frames")
		}
		frame = p.scaler.Scale(frame)
	}

	// The output must open on a sync sample.
	if p.fed == 0 {
		p.encoder.RequestKeyframe()
	}
	p.fed++
	sample, err := p.encoder.Encode(frame)
	if err != nil {
		return false, errors.Wrap(err, "encode")
	}
	if sample != nil {
		p.encoded = append(p.encoded, sample)
	}
	return true, nil
}

// feedDecoder decodes one demuxed sample of this track, or flushes the
// decoder at end of input.
func (p *ReencodePipeline) feedDecoder() (bool, error) {
	if p.inputDone {
		return false, nil
	}

	track, sample, err := p.demuxer.PeekSample()
	if err == io.EOF {
		p.inputDone = true
		p.set(PipelineStateDraining)
		frames, err := p.decoder.Flush()
		if err != nil {
			return false, errors.Wrap(err, "flush decoder")
		}
		for _, f := range frames {
			p.frames = append(p.frames, f.Clone())
		}
		p.log.WithField("flushed", len(frames)).Debug("input exhausted")
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read sample")
	}
	if track != p.track {
		return false, nil
	}

	frame, err := p.decoder.Decode(sample)
	if err != nil {
		return false, errors.Wrap(err, "decode")
	}
	if frame != nil {
		p.frames = append(p.frames, frame.Clone())
	}
	if err := p.demuxer.Advance(); err != nil && err != io.EOF {
		return false, errors.Wrap(err, "advance")
	}
	return true, nil
}

// maybeSnapshot submits the first frame at or past each interval boundary.
func (p *ReencodePipeline) maybeSnapshot(frame *VideoFrame) {
	if p.snapshots == nil || frame.PTS < p.nextSnapshot {
		return
	}
	interval := max(p.snapshotOpts.Interval.Microseconds(), 1)
	p.nextSnapshot = (frame.PTS/interval + 1) * interval
	p.snapshots.Submit(frame.Clone())
}

// DeterminedFormat implements TrackPipeline.
func (p *ReencodePipeline) DeterminedFormat() *Format { return p.output }

// Snapshots returns the snapshot writer, or nil when snapshots are off.
func (p *ReencodePipeline) Snapshots() *SnapshotWriter { return p.snapshots }

// Release implements TrackPipeline. It waits for pending snapshots.
func (p *ReencodePipeline) Release() error {
	if p.released {
		return nil
	}
	p.released = true

	var result *multierror.Error
	if p.snapshots != nil {
		if err := p.snapshots.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close snapshot writer"))
		}
		failed, dropped := p.snapshots.Failed(), p.snapshots.Dropped()
		if failed > 0 || dropped > 0 {
			p.log.WithFields(logrus.Fields{
				"written": p.snapshots.Written(),
				"failed":  failed,
				"dropped": dropped,
			}).Warn("some snapshots were not written")
		}
	}
	if p.decoder != nil {
		if err := p.decoder.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close decoder"))
		}
	}
	if p.encoder != nil {
		if err := p.encoder.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close encoder"))
		}
	}
	p.frames, p.encoded = nil, nil
	return result.ErrorOrNil()
}
