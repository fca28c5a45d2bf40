package transcoder

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultSnapshotQuality is the JPEG quality used when none is set.
const DefaultSnapshotQuality = 85

const snapshotQueueSize = 8

// SnapshotOptions configures periodic still captures of the decoded video.
type SnapshotOptions struct {
	Path     string        // directory the JPEG files are written to
	Interval time.Duration // media time between captures; 0 disables
	Quality  int           // JPEG quality 1-100
	MaxWidth int           // downscale wider frames, 0 keeps the decoded size
}

// Enabled reports whether snapshots are configured.
func (o SnapshotOptions) Enabled() bool {
	return o.Path != "" && o.Interval > 0
}

// SnapshotWriter encodes frames to JPEG files on its own goroutine so the
// caller never waits on disk I/O. Frames submitted while the queue is full
// are dropped.
type SnapshotWriter struct {
	opts SnapshotOptions
	log  logrus.FieldLogger

	queue chan *VideoFrame
	wg    sync.WaitGroup
	once  sync.Once

	seq     int
	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewSnapshotWriter starts a writer. The target directory is created when
// missing.
func NewSnapshotWriter(opts SnapshotOptions, log logrus.FieldLogger) (*SnapshotWriter, error) {
	if !opts.Enabled() {
		return nil, errors.Wrap(ErrInvalidArgument, "snapshot path and interval required")
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultSnapshotQuality
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot directory")
	}

	w := &SnapshotWriter{
		opts:  opts,
		log:   log,
		queue: make(chan *VideoFrame, snapshotQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Submit queues a frame. The writer takes ownership of it.
func (w *SnapshotWriter) Submit(frame *VideoFrame) bool {
	select {
	case w.queue <- frame:
		return true
	default:
		w.dropped.Add(1)
		w.log.WithField("pts", frame.PTS).Warn("snapshot queue full, frame dropped")
		return false
	}
}

func (w *SnapshotWriter) loop() {
	defer w.wg.Done()
	for frame := range w.queue {
		name := filepath.Join(w.opts.Path, fmt.Sprintf("snapshot-%05d.jpg", w.seq))
		w.seq++
		if err := w.write(name, frame); err != nil {
			w.failed.Add(1)
			w.log.WithError(err).WithField("snapshot", name).Error("snapshot failed")
			continue
		}
		w.written.Add(1)
		w.log.WithFields(logrus.Fields{"snapshot": name, "pts": frame.PTS}).Debug("snapshot written")
	}
}

func (w *SnapshotWriter) write(name string, frame *VideoFrame) error {
	if w.opts.MaxWidth > 0 && frame.Width > w.opts.MaxWidth {
		dw, dh := CalculateScaledSize(frame.Width, frame.Height, w.opts.MaxWidth, frame.Height, ScaleModeFit)
		frame = ScaleFrame(frame, dw, dh, ScaleModeFit)
	}
	img, err := frameToImage(frame)
	if err != nil {
		return err
	}

	f, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: w.opts.Quality}); err != nil {
		f.Close()
		return errors.Wrap(err, "encode snapshot")
	}
	return errors.Wrap(f.Close(), "close snapshot")
}

// Close waits for queued snapshots to be written. Safe to call more than once.
func (w *SnapshotWriter) Close() error {
	w.once.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
	return nil
}

// Written returns the number of snapshots written.
func (w *SnapshotWriter) Written() int { return int(w.written.Load()) }

// Failed returns the number of snapshots that could not be written.
func (w *SnapshotWriter) Failed() int { return int(w.failed.Load()) }

// Dropped returns the number of frames dropped on a full queue.
func (w *SnapshotWriter) Dropped() int { return int(w.dropped.Load()) }

// frameToImage wraps an I420 frame as a 4:2:0 YCbCr image without copying.
func frameToImage(frame *VideoFrame) (*image.YCbCr, error) {
	if frame.Format != PixelFormatI420 || len(frame.Data) < 3 || len(frame.Stride) < 3 {
		return nil, errors.Wrapf(ErrInvalidArgument, "snapshot needs I420, got %s", frame.Format)
	}
	if frame.Stride[1] != frame.Stride[2] {
		return nil, errors.Wrap(ErrInvalidArgument, "chroma strides differ")
	}
	return &image.YCbCr{
		Y:              frame.Data[0],
		Cb:             frame.Data[1],
		Cr:             frame.Data[2],
		YStride:        frame.Stride[0],
		CStride:        frame.Stride[1],
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, frame.Width, frame.Height),
	}, nil
}
