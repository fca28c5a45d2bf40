package transcoder

import "io"

// Muxer writes samples into an output container.
//
// Tracks are added and the orientation hint set before Start. WriteSample is
// only valid between Start and Stop. Close releases the output and may be
// called in any state.
type Muxer interface {
	// AddTrack registers a track and returns its index.
	AddTrack(format *Format) (int, error)
	// SetOrientationHint records the display rotation in degrees
	// (0, 90, 180 or 270).
	SetOrientationHint(degrees int) error
	// Start writes the container header.
	Start() error
	// WriteSample writes one sample. Samples of a track must arrive in
	// decode order with increasing PTS; reordered (B-frame) output is not
	// supported.
	WriteSample(track int, sample *Sample) error
	// Stop flushes buffered samples and finalizes the container.
	Stop() error
	Close() error
}

// MuxerFactory opens a muxer writing to path.
type MuxerFactory func(path string) (Muxer, error)

// SourceFactory opens a demuxer and metadata retriever over an input.
type SourceFactory func(input io.ReadSeeker) (*Source, error)
