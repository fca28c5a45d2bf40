package transcoder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Engine transcodes one input file into an fMP4 output. The video track is
// re-encoded and the audio track, when present, is passed through.
//
// Run drives every pipeline from the calling goroutine. Progress may be read
// from any goroutine while Run is in flight.
type Engine struct {
	cfg EngineConfig

	mu       sync.Mutex
	job      *JobConfig
	callback ProgressFunc

	running  atomic.Bool
	progress progressState

	newVideoPipeline func(d Demuxer, track int, request *Format, seq *Sequencer, job JobConfig, log logrus.FieldLogger) TrackPipeline
	newAudioPipeline func(d Demuxer, track int, seq *Sequencer, log logrus.FieldLogger) TrackPipeline
}

// NewEngine returns an engine. Zero config fields take their defaults.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{cfg: cfg.withDefaults()}
	e.newVideoPipeline = func(d Demuxer, track int, request *Format, seq *Sequencer, job JobConfig, log logrus.FieldLogger) TrackPipeline {
		return NewReencodePipeline(d, track, request, seq, e.cfg.Codecs, job.Snapshot, log)
	}
	e.newAudioPipeline = func(d Demuxer, track int, seq *Sequencer, log logrus.FieldLogger) TrackPipeline {
		return NewPassThroughPipeline(d, track, SampleTypeAudio, seq, log)
	}
	return e
}

// Configure sets the job for the next Run.
func (e *Engine) Configure(job JobConfig) error {
	if e.running.Load() {
		return errors.Wrap(ErrInvalidState, "engine is running")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.job = &job
	e.mu.Unlock()
	return nil
}

// SetProgressCallback sets the function notified of progress. It takes
// effect on the next Run.
func (e *Engine) SetProgressCallback(fn ProgressFunc) {
	e.mu.Lock()
	e.callback = fn
	e.mu.Unlock()
}

// Progress returns the last published progress in [0, 1], or
// ProgressUnknown.
func (e *Engine) Progress() float64 {
	return e.progress.Load()
}

// Run performs the configured job and blocks until it completes, fails or
// ctx is canceled. Cancellation returns an error matching ErrCanceled.
//
// Run panics with a *TeardownError if a pipeline or the demuxer cannot be
// released.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	job, callback := e.job, e.callback
	e.mu.Unlock()
	if job == nil {
		return errors.Wrap(ErrInvalidState, "engine not configured")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.Wrap(ErrInvalidState, "engine is running")
	}
	defer e.running.Store(false)

	e.progress.Store(0)
	r := &run{
		engine:   e,
		job:      *job,
		callback: callback,
		log:      e.cfg.Logger.WithField("run_id", uuid.NewString()),
	}

	start := time.Now()
	r.log.WithField("output", job.OutputPath).Info("transcode started")
	defer func() {
		r.teardown(err)
		if err != nil {
			r.log.WithError(err).Error("transcode failed")
			return
		}
		r.log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("transcode finished")
	}()

	return r.transcode(ctx)
}

// run holds the state of one Run call.
type run struct {
	engine   *Engine
	job      JobConfig
	callback ProgressFunc
	log      logrus.FieldLogger

	source    *Source
	muxer     Muxer
	sequencer *Sequencer
	video     TrackPipeline
	audio     TrackPipeline
	pipelines []TrackPipeline

	durationUs   int64
	lastProgress float64
}

func (r *run) transcode(ctx context.Context) error {
	cfg := r.engine.cfg

	src, err := cfg.OpenSource(r.job.Input)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	if src == nil || src.Demuxer == nil {
		return errors.Wrap(ErrInvalidArgument, "source factory returned no demuxer")
	}
	r.source = src
	if src.Metadata == nil {
		return errors.Wrap(ErrInvalidArgument, "source has no metadata retriever")
	}

	mux, err := cfg.OpenMuxer(r.job.OutputPath)
	if err != nil {
		return errors.Wrap(err, "open output")
	}
	r.muxer = mux

	rotation := r.readRotation()
	r.durationUs = r.readDuration()

	sel := SelectFirstTracks(src)
	if sel.VideoIndex < 0 {
		return errors.WithStack(ErrNoVideoTrack)
	}
	videoOut := r.job.Strategy.VideoOutputFormat(sel.VideoFormat)
	if videoOut == nil {
		return errors.Wrapf(ErrInvalidOutputFormat, "strategy declined video %s", sel.VideoFormat)
	}
	if sel.HasAudio() {
		if audioOut := r.job.Strategy.AudioOutputFormat(sel.AudioFormat); audioOut != nil {
			r.log.WithField("requested", audioOut).Warn("audio transcoding not supported, passing through")
		}
	}
	r.log.WithFields(logrus.Fields{
		"video":    sel.VideoFormat,
		"output":   videoOut,
		"audio":    sel.AudioFormat,
		"rotation": rotation,
		"duration": time.Duration(r.durationUs) * time.Microsecond,
	}).Info("tracks selected")

	r.sequencer = NewSequencer(mux, r.validateFormats, r.log)
	r.sequencer.RegisterExpectedTrack(SampleTypeVideo)
	r.sequencer.RegisterExpectedTrack(SampleTypeAudio)
	if !sel.HasAudio() {
		if err := r.sequencer.SetTrackEnabled(SampleTypeAudio, false); err != nil {
			return err
		}
	}
	r.sequencer.SetOrientationHint(rotation)

	r.video = r.engine.newVideoPipeline(src, sel.VideoIndex, videoOut, r.sequencer, r.job, r.log)
	r.pipelines = append(r.pipelines, r.video)
	if err := r.video.Setup(); err != nil {
		return errors.Wrap(err, "set up video pipeline")
	}
	if err := src.SelectTrack(sel.VideoIndex); err != nil {
		return errors.Wrap(err, "select video track")
	}

	if sel.HasAudio() {
		r.audio = r.engine.newAudioPipeline(src, sel.AudioIndex, r.sequencer, r.log)
		r.pipelines = append(r.pipelines, r.audio)
		if err := r.audio.Setup(); err != nil {
			return errors.Wrap(err, "set up audio pipeline")
		}
		if err := src.SelectTrack(sel.AudioIndex); err != nil {
			return errors.Wrap(err, "select audio track")
		}
	}

	if err := r.loop(ctx); err != nil {
		return err
	}
	if err := mux.Stop(); err != nil {
		return errors.Wrap(err, "stop muxer")
	}
	return nil
}

// readRotation returns the source rotation, or 0 when it cannot be used.
func (r *run) readRotation() int {
	deg, err := r.source.Metadata.Rotation()
	if err != nil {
		r.log.WithError(err).Warn("ignoring unreadable rotation")
		return 0
	}
	if !validRotation(deg) {
		r.log.WithField("rotation", deg).Warn("ignoring malformed rotation")
		return 0
	}
	return deg
}

// readDuration returns the source duration in microseconds, or 0 when it is
// unknown.
func (r *run) readDuration() int64 {
	d, err := r.source.Metadata.Duration()
	if err != nil {
		r.log.WithError(err).Warn("duration unknown")
		return 0
	}
	if d <= 0 {
		r.log.WithField("duration", d).Warn("duration unknown")
		return 0
	}
	return d.Microseconds()
}

// validateFormats runs the format validator when the output gate opens.
func (r *run) validateFormats() error {
	v := r.engine.cfg.Validator
	if err := v.ValidateVideo(r.video.DeterminedFormat()); err != nil {
		return errors.Wrap(err, "video output")
	}
	if r.audio != nil {
		if err := v.ValidateAudio(r.audio.DeterminedFormat()); err != nil {
			return errors.Wrap(err, "audio output")
		}
	}
	return nil
}

func (r *run) loop(ctx context.Context) error {
	cfg := r.engine.cfg
	if r.durationUs <= 0 {
		r.publish(ProgressUnknown)
	}

	timer := time.NewTimer(cfg.Backoff)
	defer timer.Stop()

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return &canceledError{cause: err}
		}

		moved, finished := false, true
		for _, p := range r.pipelines {
			if p.IsFinished() {
				continue
			}
			m, err := p.Step()
			if err != nil {
				return err
			}
			moved = moved || m
			finished = finished && p.IsFinished()
		}
		if finished {
			break
		}

		if r.durationUs > 0 && iteration%cfg.ProgressInterval == 0 {
			r.publish(aggregateProgress(r.pipelines, r.durationUs))
		}

		if !moved {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(cfg.Backoff)
			select {
			case <-ctx.Done():
				return &canceledError{cause: ctx.Err()}
			case <-timer.C:
			}
		}
	}

	if r.durationUs > 0 {
		r.publish(1)
	}
	return nil
}

// publish stores progress and notifies the callback. Known values never go
// backwards within a run.
func (r *run) publish(v float64) {
	if v != ProgressUnknown {
		v = max(v, r.lastProgress)
		r.lastProgress = v
	}
	r.engine.progress.Store(v)
	if r.callback != nil {
		r.callback(v)
	}
}

// teardown releases the pipelines, the demuxer and the muxer in that order.
// A pipeline or demuxer failure may have leaked native resources and is
// fatal; a muxer failure is only logged.
func (r *run) teardown(runErr error) {
	defer func() {
		if r.muxer == nil {
			return
		}
		if err := r.muxer.Close(); err != nil {
			r.log.WithError(err).Error("could not release muxer")
		}
	}()

	type release struct {
		op string
		fn func() error
	}
	var steps []release
	if r.video != nil {
		steps = append(steps, release{"video pipeline", r.video.Release})
	}
	if r.audio != nil {
		steps = append(steps, release{"audio pipeline", r.audio.Release})
	}
	if r.source != nil {
		steps = append(steps, release{"demuxer", r.source.Close})
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			r.log.WithError(err).WithField("component", s.op).Error("release failed")
			panic(&TeardownError{Op: s.op, Err: err, Run: runErr})
		}
	}
}
