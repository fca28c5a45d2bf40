package transcoder

import (
	"fmt"
	"strings"
)

// SampleType is the kind of track a sample or format belongs to.
type SampleType int

const (
	SampleTypeVideo SampleType = iota
	SampleTypeAudio
)

// sampleTypes is the fixed order in which track kinds are registered with a
// muxer. Keeping it fixed makes the container header deterministic.
var sampleTypes = [...]SampleType{SampleTypeVideo, SampleTypeAudio}

func (t SampleType) String() string {
	switch t {
	case SampleTypeVideo:
		return "video"
	case SampleTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Format describes a track's codec and its parameters.
// Fields that do not apply to the track kind are left zero.
type Format struct {
	MIME string

	// Video
	Width            int
	Height           int
	FrameRate        float64
	KeyframeInterval int // seconds between keyframes
	Profile          H264Profile

	// Audio
	SampleRate   int
	ChannelCount int

	BitRate int // bits per second, 0 when unknown

	// CSD holds codec-specific data: SPS and PPS for H.264, the
	// AudioSpecificConfig for AAC.
	CSD [][]byte
}

// IsVideo reports whether the format describes a video track.
func (f *Format) IsVideo() bool {
	return f != nil && strings.HasPrefix(f.MIME, "video/")
}

// IsAudio reports whether the format describes an audio track.
func (f *Format) IsAudio() bool {
	return f != nil && strings.HasPrefix(f.MIME, "audio/")
}

// Clone returns a deep copy of the format.
func (f *Format) Clone() *Format {
	if f == nil {
		return nil
	}
	clone := *f
	if f.CSD != nil {
		clone.CSD = make([][]byte, len(f.CSD))
		for i, b := range f.CSD {
			clone.CSD[i] = append([]byte(nil), b...)
		}
	}
	return &clone
}

func (f *Format) String() string {
	if f == nil {
		return "<nil>"
	}
	switch {
	case f.IsVideo():
		return fmt.Sprintf("%s %dx%d@%.2f %dbps", f.MIME, f.Width, f.Height, f.FrameRate, f.BitRate)
	case f.IsAudio():
		return fmt.Sprintf("%s %dHz ch=%d %dbps", f.MIME, f.SampleRate, f.ChannelCount, f.BitRate)
	default:
		return f.MIME
	}
}

// NewVideoFormat returns a video format with the given MIME type and size.
func NewVideoFormat(mime string, width, height int) *Format {
	return &Format{MIME: mime, Width: width, Height: height}
}

// NewAudioFormat returns an audio format with the given MIME type, sample rate
// and channel count.
func NewAudioFormat(mime string, sampleRate, channels int) *Format {
	return &Format{MIME: mime, SampleRate: sampleRate, ChannelCount: channels}
}
