package transcoder

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testASC = []byte{0x11, 0x90} // AAC-LC 48 kHz stereo
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func annexB(nalus ...[]byte) []byte {
	var b bytes.Buffer
	for _, n := range nalus {
		b.Write(startCode)
		b.Write(n)
	}
	return b.Bytes()
}

func idrSample(pts int64) *Sample {
	return &Sample{Data: annexB(testSPS, testPPS, []byte{0x65, 0x88, 0x84, 0x00}), PTS: pts, Flags: SampleFlagSync}
}

func sliceSample(pts int64) *Sample {
	return &Sample{Data: annexB([]byte{0x41, 0x9a, 0x02, 0x00}), PTS: pts}
}

// recorder collects events from several fakes in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeEntry struct {
	track  int
	sample *Sample
}

// fakeDemuxer serves a fixed, interleaved list of samples.
type fakeDemuxer struct {
	formats  []*Format
	entries  []fakeEntry
	selected map[int]bool
	pos      int

	duration    time.Duration
	durationErr error
	rotation    int
	rotationErr error

	rec      *recorder
	closeErr error
	closed   int
}

// newFakeSource returns a demuxer with one H.264 video track and, when
// withAudio is set, one AAC track. Samples are 30 fps video and ~21 ms
// audio over d.
func newFakeSource(d time.Duration, withAudio bool, rec *recorder) *fakeDemuxer {
	video := NewVideoFormat(MIMEVideoAVC, 320, 180)
	video.FrameRate = 30
	video.CSD = [][]byte{testSPS, testPPS}
	fd := &fakeDemuxer{
		formats:  []*Format{video},
		selected: map[int]bool{},
		duration: d,
		rec:      rec,
	}
	if withAudio {
		audio := NewAudioFormat(MIMEAudioAAC, 48000, 2)
		audio.CSD = [][]byte{testASC}
		fd.formats = append(fd.formats, audio)
	}

	const frameUs = 33_333
	const audioUs = 21_333
	var vpts, apts int64
	end := d.Microseconds()
	for i := 0; vpts < end || (withAudio && apts < end); {
		if vpts < end && (!withAudio || vpts <= apts || apts >= end) {
			s := sliceSample(vpts)
			if i%30 == 0 {
				s = idrSample(vpts)
			}
			fd.entries = append(fd.entries, fakeEntry{0, s})
			vpts += frameUs
			i++
			continue
		}
		fd.entries = append(fd.entries, fakeEntry{1, &Sample{Data: []byte{0x21, 0x10, 0x04}, PTS: apts, Flags: SampleFlagSync}})
		apts += audioUs
	}
	return fd
}

func (d *fakeDemuxer) source() *Source { return &Source{Demuxer: d, Metadata: d} }

func (d *fakeDemuxer) TrackCount() int { return len(d.formats) }

func (d *fakeDemuxer) TrackFormat(i int) *Format {
	if i < 0 || i >= len(d.formats) {
		return nil
	}
	return d.formats[i].Clone()
}

func (d *fakeDemuxer) SelectTrack(i int) error {
	if i < 0 || i >= len(d.formats) {
		return ErrInvalidArgument
	}
	d.selected[i] = true
	return nil
}

func (d *fakeDemuxer) skip() {
	for d.pos < len(d.entries) && !d.selected[d.entries[d.pos].track] {
		d.pos++
	}
}

func (d *fakeDemuxer) PeekSample() (int, *Sample, error) {
	d.skip()
	if d.pos >= len(d.entries) {
		return -1, nil, io.EOF
	}
	e := d.entries[d.pos]
	return e.track, e.sample, nil
}

func (d *fakeDemuxer) Advance() error {
	d.skip()
	if d.pos >= len(d.entries) {
		return io.EOF
	}
	d.pos++
	return nil
}

func (d *fakeDemuxer) Close() error {
	d.closed++
	if d.rec != nil {
		d.rec.add("demuxer")
	}
	return d.closeErr
}

func (d *fakeDemuxer) Duration() (time.Duration, error) { return d.duration, d.durationErr }

func (d *fakeDemuxer) Rotation() (int, error) { return d.rotation, d.rotationErr }

type writtenSample struct {
	track int
	pts   int64
	sync  bool
}

// fakeMuxer records calls and rejects writes before Start.
type fakeMuxer struct {
	rec *recorder

	formats  []*Format
	rotation int
	started  bool
	stopped  bool
	written  []writtenSample
	calls    []string

	startErr error
	closeErr error
	closed   int
}

func (m *fakeMuxer) AddTrack(f *Format) (int, error) {
	if m.started {
		return -1, ErrMuxerStarted
	}
	m.calls = append(m.calls, "add "+f.MIME)
	m.formats = append(m.formats, f)
	return len(m.formats) - 1, nil
}

func (m *fakeMuxer) SetOrientationHint(deg int) error {
	m.calls = append(m.calls, "orientation")
	m.rotation = deg
	return nil
}

func (m *fakeMuxer) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.calls = append(m.calls, "start")
	m.started = true
	return nil
}

func (m *fakeMuxer) WriteSample(track int, s *Sample) error {
	if !m.started {
		return errors.WithStack(ErrMuxerNotStarted)
	}
	m.written = append(m.written, writtenSample{track, s.PTS, s.IsSync()})
	return nil
}

func (m *fakeMuxer) Stop() error {
	if !m.started {
		return errors.WithStack(ErrMuxerNotStarted)
	}
	m.calls = append(m.calls, "stop")
	m.stopped = true
	return nil
}

func (m *fakeMuxer) Close() error {
	m.closed++
	if m.rec != nil {
		m.rec.add("muxer")
	}
	return m.closeErr
}

func (m *fakeMuxer) track(i int) []writtenSample {
	var out []writtenSample
	for _, w := range m.written {
		if w.track == i {
			out = append(out, w)
		}
	}
	return out
}

// fakeCodecs hands out a pass-through style decoder and an encoder that
// emits Annex-B with parameter sets on every keyframe.
type fakeCodecs struct {
	decodeDelay int // frames held back by the decoder
	encodeDelay int // frames held back by the encoder
	decoderErr  error

	decoders []*fakeDecoder
	encoders []*fakeEncoder
}

func (c *fakeCodecs) NewVideoDecoder(in *Format) (VideoDecoder, error) {
	if c.decoderErr != nil {
		return nil, c.decoderErr
	}
	d := &fakeDecoder{width: in.Width, height: in.Height, delay: c.decodeDelay}
	c.decoders = append(c.decoders, d)
	return d, nil
}

func (c *fakeCodecs) NewVideoEncoder(out *Format) (VideoEncoder, error) {
	e := &fakeEncoder{delay: c.encodeDelay, gop: int(out.FrameRate) * max(out.KeyframeInterval, 1)}
	c.encoders = append(c.encoders, e)
	return e, nil
}

type fakeDecoder struct {
	width, height int
	delay         int
	pending       []*VideoFrame
	decoded       int
	closed        int
}

func (d *fakeDecoder) Decode(s *Sample) (*VideoFrame, error) {
	f := NewI420Frame(d.width, d.height)
	f.PTS = s.PTS
	d.pending = append(d.pending, f)
	d.decoded++
	if len(d.pending) <= d.delay {
		return nil, nil
	}
	out := d.pending[0]
	d.pending = d.pending[1:]
	return out, nil
}

func (d *fakeDecoder) Flush() ([]*VideoFrame, error) {
	out := d.pending
	d.pending = nil
	return out, nil
}

func (d *fakeDecoder) Codec() VideoCodec  { return VideoCodecH264 }
func (d *fakeDecoder) Provider() Provider { return ProviderExternal }
func (d *fakeDecoder) Close() error       { d.closed++; return nil }

type fakeEncoder struct {
	delay   int
	gop     int
	pending []*VideoFrame
	count   int
	sizes   [][2]int
	closed  int

	keyframeRequests []int // frame count at each request
	forceKeyframe    bool
}

func (e *fakeEncoder) encode(f *VideoFrame) *Sample {
	defer func() { e.count++ }()
	if e.forceKeyframe || e.gop <= 0 || e.count%e.gop == 0 {
		e.forceKeyframe = false
		return idrSample(f.PTS)
	}
	return sliceSample(f.PTS)
}

func (e *fakeEncoder) Encode(f *VideoFrame) (*Sample, error) {
	e.sizes = append(e.sizes, [2]int{f.Width, f.Height})
	e.pending = append(e.pending, &VideoFrame{Width: f.Width, Height: f.Height, PTS: f.PTS})
	if len(e.pending) <= e.delay {
		return nil, nil
	}
	out := e.pending[0]
	e.pending = e.pending[1:]
	return e.encode(out), nil
}

func (e *fakeEncoder) Flush() ([]*Sample, error) {
	var out []*Sample
	for _, f := range e.pending {
		out = append(out, e.encode(f))
	}
	e.pending = nil
	return out, nil
}

func (e *fakeEncoder) RequestKeyframe() {
	e.keyframeRequests = append(e.keyframeRequests, len(e.sizes))
	e.forceKeyframe = true
}

func (e *fakeEncoder) Codec() VideoCodec  { return VideoCodecH264 }
func (e *fakeEncoder) Provider() Provider { return ProviderExternal }
func (e *fakeEncoder) Close() error       { e.closed++; return nil }

// recordingPipeline wraps a pipeline to record Release calls.
type recordingPipeline struct {
	TrackPipeline
	name       string
	rec        *recorder
	releaseErr error
	releases   int
}

func (p *recordingPipeline) Release() error {
	p.releases++
	p.rec.add(p.name)
	if err := p.TrackPipeline.Release(); err != nil {
		return err
	}
	return p.releaseErr
}

// stallPipeline never makes progress.
type stallPipeline struct {
	pipelineState
	steps int
}

func (p *stallPipeline) Setup() error              { p.set(PipelineStateSetup); return nil }
func (p *stallPipeline) Step() (bool, error)       { p.steps++; return false, nil }
func (p *stallPipeline) DeterminedFormat() *Format { return nil }
func (p *stallPipeline) Release() error            { return nil }
