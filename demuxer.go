package transcoder

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Demuxer reads compressed samples from an input container.
//
// One demuxer is shared by every pipeline of a run. It yields the samples of
// all selected tracks in container order; each pipeline only consumes
// samples of its own track.
type Demuxer interface {
	io.Closer

	TrackCount() int
	// TrackFormat returns the input format of a track.
	TrackFormat(index int) *Format
	// SelectTrack adds a track to the set whose samples are returned.
	SelectTrack(index int) error

	// PeekSample returns the sample at the read position and its track index
	// without consuming it. It returns io.EOF once every selected track is
	// exhausted.
	PeekSample() (track int, sample *Sample, err error)
	// Advance moves past the current sample.
	Advance() error
}

// MetadataRetriever exposes container level metadata.
type MetadataRetriever interface {
	// Duration returns the total presentation duration.
	Duration() (time.Duration, error)
	// Rotation returns the clockwise display rotation in degrees.
	Rotation() (int, error)
}

// TrackSelection holds the tracks chosen for transcoding. Indices are -1
// when no such track exists.
type TrackSelection struct {
	VideoIndex  int
	VideoFormat *Format
	AudioIndex  int
	AudioFormat *Format
}

// HasAudio reports whether an audio track was selected.
func (s TrackSelection) HasAudio() bool { return s.AudioIndex >= 0 }

// SelectFirstTracks picks the first video and the first audio track.
func SelectFirstTracks(d Demuxer) TrackSelection {
	sel := TrackSelection{VideoIndex: -1, AudioIndex: -1}
	for i := 0; i < d.TrackCount(); i++ {
		f := d.TrackFormat(i)
		switch {
		case sel.VideoIndex < 0 && f.IsVideo():
			sel.VideoIndex, sel.VideoFormat = i, f
		case sel.AudioIndex < 0 && f.IsAudio():
			sel.AudioIndex, sel.AudioFormat = i, f
		}
	}
	return sel
}

// Source couples a demuxer with the metadata of the same input.
type Source struct {
	Demuxer
	Metadata MetadataRetriever
}

// OpenSource detects the container of r and opens a matching demuxer.
func OpenSource(r io.ReadSeeker) (*Source, error) {
	container, err := sniffContainer(r)
	if err != nil {
		return nil, err
	}

	switch container {
	case ContainerMP4:
		d, err := NewMP4Demuxer(r)
		if err != nil {
			return nil, err
		}
		return &Source{Demuxer: d, Metadata: d}, nil
	case ContainerIVF:
		d, err := NewIVFDemuxer(r)
		if err != nil {
			return nil, err
		}
		return &Source{Demuxer: d, Metadata: d}, nil
	default:
		return nil, errors.WithStack(ErrUnsupportedInput)
	}
}

// demuxedSample is an entry of a demuxer's interleaved read order.
type demuxedSample struct {
	track  int
	offset int64
	size   int
	pts    int64
	sync   bool
}
