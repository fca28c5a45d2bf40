package transcoder

import (
	"io"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultFragmentDuration is the minimum media time per fragment.
const DefaultFragmentDuration = time.Second

type fmp4Track struct {
	id        int
	timescale uint32
	codec     mp4.Codec
	video     bool
	avc       bool

	// The last written sample waits here until the next one fixes its duration.
	held    *fmp4.Sample
	heldDTS int64

	samples      []*fmp4.Sample
	baseTime     int64 // DTS of samples[0], in timescale units
	lastDuration uint32
	written      int
	// samples whose timestamp had to be moved forward
	retimed int
}

// FMP4Muxer writes a fragmented MP4 file: an init segment followed by
// moof/mdat pairs. Fragments are cut on video keyframes once at least
// FragmentDuration of media is buffered.
type FMP4Muxer struct {
	FragmentDuration time.Duration

	w      io.Writer
	closer io.Closer
	log    logrus.FieldLogger

	tracks   []*fmp4Track
	rotation int
	started  bool
	stopped  bool
	closed   bool
	seq      uint32
}

// NewFMP4Muxer creates the file at path and returns a muxer writing to it.
func NewFMP4Muxer(path string, log logrus.FieldLogger) (*FMP4Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create output")
	}
	m := NewFMP4MuxerWriter(f, log)
	m.closer = f
	return m, nil
}

// NewFMP4MuxerWriter returns a muxer writing to w. Close does not close w.
func NewFMP4MuxerWriter(w io.Writer, log logrus.FieldLogger) *FMP4Muxer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FMP4Muxer{
		FragmentDuration: DefaultFragmentDuration,
		w:                w,
		log:              log,
	}
}

// AddTrack implements Muxer.
func (m *FMP4Muxer) AddTrack(format *Format) (int, error) {
	if m.started {
		return -1, errors.WithStack(ErrMuxerStarted)
	}

	t := &fmp4Track{id: len(m.tracks) + 1}
	switch format.MIME {
	case MIMEVideoAVC:
		if len(format.CSD) < 2 {
			return -1, errors.Wrap(ErrInvalidArgument, "H.264 track without SPS/PPS")
		}
		t.codec = &mp4.CodecH264{SPS: format.CSD[0], PPS: format.CSD[1]}
		t.timescale = VideoCodecH264.ClockRate()
		t.video, t.avc = true, true
	case MIMEAudioAAC:
		if len(format.CSD) < 1 {
			return -1, errors.Wrap(ErrInvalidArgument, "AAC track without AudioSpecificConfig")
		}
		var conf mpeg4audio.AudioSpecificConfig
		if err := conf.Unmarshal(format.CSD[0]); err != nil {
			return -1, errors.Wrap(err, "parse AudioSpecificConfig")
		}
		t.codec = &mp4.CodecMPEG4Audio{Config: conf}
		t.timescale = uint32(conf.SampleRate)
	case MIMEAudioOpus:
		channels := format.ChannelCount
		if channels <= 0 {
			channels = 2
		}
		t.codec = &mp4.CodecOpus{ChannelCount: channels}
		t.timescale = 48000
	default:
		return -1, errors.Wrapf(ErrInvalidOutputFormat, "unsupported MIME %q", format.MIME)
	}
	if t.timescale == 0 {
		return -1, errors.Wrap(ErrInvalidArgument, "zero timescale")
	}

	m.tracks = append(m.tracks, t)
	return len(m.tracks) - 1, nil
}

// SetOrientationHint implements Muxer.
func (m *FMP4Muxer) SetOrientationHint(degrees int) error {
	if m.started {
		return errors.WithStack(ErrMuxerStarted)
	}
	if !validRotation(degrees) {
		return errors.Wrapf(ErrInvalidArgument, "orientation hint %d", degrees)
	}
	m.rotation = degrees
	return nil
}

// Start implements Muxer. It writes the init segment.
func (m *FMP4Muxer) Start() error {
	if m.started {
		return errors.WithStack(ErrMuxerStarted)
	}
	if len(m.tracks) == 0 {
		return errors.Wrap(ErrInvalidState, "no tracks added")
	}

	init := &fmp4.Init{}
	for _, t := range m.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timescale,
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return errors.Wrap(err, "marshal init segment")
	}
	header := buf.Bytes()

	if m.rotation != 0 {
		matrix, err := matrixForRotation(m.rotation)
		if err != nil {
			return err
		}
		for _, t := range m.tracks {
			if t.video {
				if header, err = applyTrackMatrix(header, uint32(t.id), matrix); err != nil {
					return err
				}
			}
		}
	}

	if _, err := m.w.Write(header); err != nil {
		return errors.Wrap(err, "write init segment")
	}
	m.started = true
	m.log.WithFields(logrus.Fields{"tracks": len(m.tracks), "rotation": m.rotation, "size": len(header)}).
		Debug("fMP4 init segment written")
	return nil
}

// WriteSample implements Muxer. Empty samples are ignored.
//
// The sample PTS is written as its decode time, so samples of a track must
// arrive with increasing timestamps. A sample that does not is moved to one
// default duration after its predecessor.
func (m *FMP4Muxer) WriteSample(track int, sample *Sample) error {
	if sample == nil {
		return errors.Wrap(ErrInvalidArgument, "nil sample")
	}
	if !m.started || m.stopped {
		return errors.WithStack(ErrMuxerNotStarted)
	}
	if track < 0 || track >= len(m.tracks) {
		return errors.Wrapf(ErrInvalidArgument, "track %d", track)
	}
	if len(sample.Data) == 0 {
		return nil
	}
	t := m.tracks[track]

	payload := sample.Data
	if t.avc {
		var au h264.AnnexB
		if err := au.Unmarshal(payload); err != nil {
			return errors.Wrap(err, "parse Annex-B sample")
		}
		avcc := h264.AVCC(au)
		b, err := avcc.Marshal()
		if err != nil {
			return errors.Wrap(err, "convert sample to AVCC")
		}
		payload = b
	} else if _, ok := t.codec.(*mp4.CodecMPEG4Audio); ok {
		payload = stripADTSHeader(payload)
	}

	dts := microsToTicks(sample.PTS, t.timescale)
	if dts < 0 {
		dts = 0
	}
	if t.held != nil && dts <= t.heldDTS {
		// non-increasing timestamps would produce a zero duration
		if t.retimed == 0 {
			m.log.WithFields(logrus.Fields{
				"track":    t.id,
				"pts":      sample.PTS,
				"previous": ticksToMicros(t.heldDTS, t.timescale),
			}).Warn("non-increasing timestamp, moving sample forward")
		}
		t.retimed++
		dts = t.heldDTS + int64(t.defaultDuration())
	}

	m.completeHeld(t, dts)

	// A video keyframe opens a new fragment once the current one is long enough.
	if t.video && sample.IsSync() && m.bufferedDuration(t) >= m.FragmentDuration {
		if err := m.flush(); err != nil {
			return err
		}
	}

	t.held = &fmp4.Sample{
		IsNonSyncSample: !sample.IsSync() && t.video,
		Payload:         payload,
	}
	t.heldDTS = dts
	t.written++

	// Audio-only files have no keyframes to cut on.
	if !m.hasVideo() && m.bufferedDuration(t) >= m.FragmentDuration {
		return m.flush()
	}
	return nil
}

// completeHeld moves the held sample into the fragment with its duration
// taken from the next DTS.
func (m *FMP4Muxer) completeHeld(t *fmp4Track, nextDTS int64) {
	if t.held == nil {
		return
	}
	t.held.Duration = uint32(nextDTS - t.heldDTS)
	t.lastDuration = t.held.Duration
	if len(t.samples) == 0 {
		t.baseTime = t.heldDTS
	}
	t.samples = append(t.samples, t.held)
	t.held = nil
}

func (t *fmp4Track) defaultDuration() uint32 {
	if t.lastDuration > 0 {
		return t.lastDuration
	}
	switch t.codec.(type) {
	case *mp4.CodecMPEG4Audio:
		return 1024
	case *mp4.CodecOpus:
		return 960
	default:
		return t.timescale / 30
	}
}

func (m *FMP4Muxer) hasVideo() bool {
	for _, t := range m.tracks {
		if t.video {
			return true
		}
	}
	return false
}

// bufferedDuration is the media time of t's samples in the open fragment.
func (m *FMP4Muxer) bufferedDuration(t *fmp4Track) time.Duration {
	if len(t.samples) == 0 {
		return 0
	}
	var ticks int64
	for _, s := range t.samples {
		ticks += int64(s.Duration)
	}
	return time.Duration(ticksToMicros(ticks, t.timescale)) * time.Microsecond
}

// flush writes one moof/mdat pair with every completed sample.
func (m *FMP4Muxer) flush() error {
	part := &fmp4.Part{SequenceNumber: m.seq + 1}
	for _, t := range m.tracks {
		if len(t.samples) == 0 {
			continue
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(t.baseTime),
			Samples:  t.samples,
		})
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return errors.Wrap(err, "marshal fragment")
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write fragment")
	}
	m.seq++
	for _, t := range m.tracks {
		t.samples = nil
	}
	return nil
}

// Stop implements Muxer.
func (m *FMP4Muxer) Stop() error {
	if !m.started {
		return errors.WithStack(ErrMuxerNotStarted)
	}
	if m.stopped {
		return nil
	}
	for _, t := range m.tracks {
		if t.held != nil {
			m.completeHeld(t, t.heldDTS+int64(t.defaultDuration()))
		}
	}
	if err := m.flush(); err != nil {
		return err
	}
	m.stopped = true

	fields := logrus.Fields{"fragments": m.seq}
	for _, t := range m.tracks {
		fields["samples_"+trackLabel(t)] = t.written
	}
	m.log.WithFields(fields).Debug("fMP4 muxer stopped")
	return nil
}

// Close implements Muxer.
func (m *FMP4Muxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.closer != nil {
		return errors.Wrap(m.closer.Close(), "close output")
	}
	return nil
}

func trackLabel(t *fmp4Track) string {
	if t.video {
		return "video"
	}
	return "audio"
}

// stripADTSHeader removes an ADTS header from an AAC frame if present.
func stripADTSHeader(data []byte) []byte {
	if len(data) < 7 || data[0] != 0xFF || data[1]&0xF6 != 0xF0 {
		return data
	}
	headerLen := 7
	if data[1]&0x01 == 0 {
		// CRC present
		headerLen = 9
	}
	if len(data) <= headerLen {
		return data
	}
	return data[headerLen:]
}
