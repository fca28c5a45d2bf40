package transcoder

import (
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pkg/errors"
)

// IVFDemuxer reads a single VP8, VP9 or AV1 track from an IVF file.
// Frames are read lazily; IVF has no index.
type IVFDemuxer struct {
	reader *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	format *Format
	codec  VideoCodec

	selected bool
	current  *Sample
	eof      bool
}

var ivfFourCC = map[string]VideoCodec{
	"VP80": VideoCodecVP8,
	"VP90": VideoCodecVP9,
	"AV01": VideoCodecAV1,
}

// NewIVFDemuxer reads the IVF file header from r.
func NewIVFDemuxer(r io.Reader) (*IVFDemuxer, error) {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedInput, "read IVF header: %v", err)
	}
	codec, ok := ivfFourCC[header.FourCC]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedInput, "IVF fourcc %q", header.FourCC)
	}
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return nil, errors.Wrap(ErrUnsupportedInput, "IVF timebase is zero")
	}

	f := NewVideoFormat(codec.MimeType(), int(header.Width), int(header.Height))
	f.FrameRate = float64(header.TimebaseDenominator) / float64(header.TimebaseNumerator)

	return &IVFDemuxer{
		reader: reader,
		header: header,
		format: f,
		codec:  codec,
	}, nil
}

// TrackCount implements Demuxer.
func (d *IVFDemuxer) TrackCount() int { return 1 }

// TrackFormat implements Demuxer.
func (d *IVFDemuxer) TrackFormat(index int) *Format {
	if index != 0 {
		return nil
	}
	return d.format.Clone()
}

// SelectTrack implements Demuxer.
func (d *IVFDemuxer) SelectTrack(index int) error {
	if index != 0 {
		return errors.Wrapf(ErrInvalidArgument, "track index %d", index)
	}
	d.selected = true
	return nil
}

// frameTicks recovers the timebase tick count of a frame. ivfreader reports
// frame timestamps scaled by den/num and rounded down, so the smallest tick
// count that scales to ts is the original one whenever den >= num.
func (d *IVFDemuxer) frameTicks(ts uint64) uint64 {
	num := uint64(d.header.TimebaseNumerator)
	den := uint64(d.header.TimebaseDenominator)
	return (ts*num + den - 1) / den
}

// timestampToMicros converts timebase ticks to microseconds.
func (d *IVFDemuxer) timestampToMicros(ts uint64) int64 {
	num := int64(d.header.TimebaseNumerator)
	den := int64(d.header.TimebaseDenominator)
	return int64(ts) * num * 1_000_000 / den
}

// PeekSample implements Demuxer.
func (d *IVFDemuxer) PeekSample() (int, *Sample, error) {
	if !d.selected || d.eof {
		return -1, nil, io.EOF
	}
	if d.current == nil {
		payload, fh, err := d.reader.ParseNextFrame()
		if err == io.EOF {
			d.eof = true
			return -1, nil, io.EOF
		}
		if err != nil {
			return -1, nil, errors.Wrap(err, "read IVF frame")
		}
		d.current = &Sample{Data: payload, PTS: d.timestampToMicros(d.frameTicks(fh.Timestamp))}
		if isKeyframe(d.codec, payload) {
			d.current.Flags |= SampleFlagSync
		}
	}
	return 0, d.current, nil
}

// Advance implements Demuxer.
func (d *IVFDemuxer) Advance() error {
	if _, _, err := d.PeekSample(); err != nil {
		return err
	}
	d.current = nil
	return nil
}

// Close implements Demuxer. The input handle is owned by the caller.
func (d *IVFDemuxer) Close() error {
	d.current = nil
	d.eof = true
	return nil
}

// Duration implements MetadataRetriever. It trusts the frame count in the
// file header, which some writers leave at zero.
func (d *IVFDemuxer) Duration() (time.Duration, error) {
	if d.header.NumFrames == 0 {
		return 0, errors.New("IVF header has no frame count")
	}
	us := d.timestampToMicros(uint64(d.header.NumFrames))
	return time.Duration(us) * time.Microsecond, nil
}

// Rotation implements MetadataRetriever. IVF carries no orientation.
func (d *IVFDemuxer) Rotation() (int, error) {
	return 0, nil
}
