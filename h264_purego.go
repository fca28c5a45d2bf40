//go:build (darwin || linux) && !noh264

// H.264 support via libmedia_h264 (x264 encoder, OpenH264 decoder) loaded
// at runtime with purego.

package transcoder

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// Constants from media_h264.h
const (
	mediaH264FrameI   = 0
	mediaH264FrameIDR = 3
)

// h264Lib holds the resolved libmedia_h264 entry points.
type h264Lib struct {
	encoderCreate        func(width, height, fps, bitrateKbps, profile, threads int32) uint64
	encoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts, outDts uintptr) int32
	encoderMaxOutputSize func(encoder uint64) int32
	encoderRequestKF     func(encoder uint64)
	encoderDestroy       func(encoder uint64)

	decoderCreate  func(threads int32) uint64
	decoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	decoderDestroy func(decoder uint64)

	getError         func() uintptr
	encoderAvailable func() int32
	decoderAvailable func() int32
}

var (
	h264Once    sync.Once
	h264Native  *h264Lib
	h264LoadErr error
)

func loadH264Lib() (*h264Lib, error) {
	h264Once.Do(func() {
		h264Native, h264LoadErr = openH264Lib()
	})
	return h264Native, h264LoadErr
}

func openH264Lib() (*h264Lib, error) {
	handle, err := dlopenFirst(nativeLibPaths("media_h264", "TRANSCODER_H264_LIB"))
	if err != nil {
		return nil, errors.Wrap(err, "load libmedia_h264")
	}

	lib := &h264Lib{}
	symbols := []struct {
		fptr any
		name string
	}{
		{&lib.encoderCreate, "media_h264_encoder_create"},
		{&lib.encoderEncode, "media_h264_encoder_encode"},
		{&lib.encoderMaxOutputSize, "media_h264_encoder_max_output_size"},
		{&lib.encoderRequestKF, "media_h264_encoder_request_keyframe"},
		{&lib.encoderDestroy, "media_h264_encoder_destroy"},
		{&lib.decoderCreate, "media_h264_decoder_create"},
		{&lib.decoderDecode, "media_h264_decoder_decode"},
		{&lib.decoderDestroy, "media_h264_decoder_destroy"},
		{&lib.getError, "media_h264_get_error"},
		{&lib.encoderAvailable, "media_h264_encoder_available"},
		{&lib.decoderAvailable, "media_h264_decoder_available"},
	}
	for _, s := range symbols {
		sym, err := purego.Dlsym(handle, s.name)
		if err != nil {
			purego.Dlclose(handle)
			return nil, errors.Wrapf(err, "libmedia_h264: missing %s", s.name)
		}
		purego.RegisterFunc(s.fptr, sym)
	}
	return lib, nil
}

func (l *h264Lib) lastError() string {
	if msg := goStringFromPtr(l.getError()); msg != "" {
		return msg
	}
	return "unknown error"
}

// IsH264EncoderAvailable checks if the native H.264 encoder can be used.
func IsH264EncoderAvailable() bool {
	lib, err := loadH264Lib()
	return err == nil && lib.encoderAvailable() != 0
}

// IsH264DecoderAvailable checks if the native H.264 decoder can be used.
func IsH264DecoderAvailable() bool {
	lib, err := loadH264Lib()
	return err == nil && lib.decoderAvailable() != 0
}

// H264Encoder implements VideoEncoder with x264.
type H264Encoder struct {
	lib    *h264Lib
	config VideoEncoderConfig

	handle    uint64
	outputBuf []byte

	// frames between forced keyframes, 0 leaves placement to x264
	gopFrames  int
	sinceKey   int
	keyRequest atomic.Bool
	mu         sync.Mutex
}

// NewH264Encoder creates a native H.264 encoder.
func NewH264Encoder(config VideoEncoderConfig) (*H264Encoder, error) {
	lib, err := loadH264Lib()
	if err != nil {
		return nil, errors.Wrap(err, "H.264 encoder not available")
	}
	if lib.encoderAvailable() == 0 {
		return nil, errors.New("H.264 encoder not available (x264 not compiled)")
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "encoder size %dx%d", config.Width, config.Height)
	}

	threads := config.Threads
	if threads <= 0 {
		threads = 4
	}
	bitrateKbps := config.BitrateBps / 1000
	if bitrateKbps <= 0 {
		bitrateKbps = 1000
	}
	fps := int(config.FPS + 0.5)
	if fps <= 0 {
		fps = 30
	}

	handle := lib.encoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(fps),
		int32(bitrateKbps),
		int32(config.H264Profile.ProfileIDC()),
		int32(threads),
	)
	if handle == 0 {
		return nil, errors.Errorf("create H.264 encoder: %s", lib.lastError())
	}

	maxOutput := lib.encoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(I420Size(config.Width, config.Height))
	}

	enc := &H264Encoder{
		lib:       lib,
		config:    config,
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
		gopFrames: config.KeyframeInterval * fps,
	}
	enc.keyRequest.Store(true)
	return enc, nil
}

// Encode implements VideoEncoder.
func (e *H264Encoder) Encode(frame *VideoFrame) (*Sample, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, errors.New("encoder closed")
	}
	if frame.Format != PixelFormatI420 || len(frame.Data) < 3 {
		return nil, errors.Wrapf(ErrInvalidArgument, "encoder wants I420, got %s", frame.Format)
	}

	force := int32(0)
	if e.keyRequest.Swap(false) || (e.gopFrames > 0 && e.sinceKey >= e.gopFrames) {
		force = 1
	}

	// Output parameters live on the heap; see the decoder for why.
	out := &struct {
		frameType int32
		pts, dts  int64
	}{}

	n := e.lib.encoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		force,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&out.frameType)),
		uintptr(unsafe.Pointer(&out.pts)),
		uintptr(unsafe.Pointer(&out.dts)),
	)
	runtime.KeepAlive(frame)
	runtime.KeepAlive(out)

	if n < 0 {
		return nil, errors.Errorf("encode failed: %s", e.lib.lastError())
	}
	if n == 0 {
		return nil, nil
	}

	s := &Sample{
		Data: append([]byte(nil), e.outputBuf[:n]...),
		PTS:  frame.PTS,
	}
	if out.frameType == mediaH264FrameIDR || out.frameType == mediaH264FrameI {
		s.Flags |= SampleFlagSync
		e.sinceKey = 0
	}
	e.sinceKey++
	return s, nil
}

// Flush implements VideoEncoder. x264 runs with zero latency here.
func (e *H264Encoder) Flush() ([]*Sample, error) {
	return nil, nil
}

// RequestKeyframe implements VideoEncoder.
func (e *H264Encoder) RequestKeyframe() {
	e.keyRequest.Store(true)
}

// Codec implements VideoEncoder.
func (e *H264Encoder) Codec() VideoCodec { return VideoCodecH264 }

// Provider implements VideoEncoder.
func (e *H264Encoder) Provider() Provider { return ProviderX264 }

// Close implements VideoEncoder.
func (e *H264Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		e.lib.encoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

// h264DecodeResult receives decoder output parameters.
// It must be heap-allocated: the GC may move stack variables during a purego
// call on arm64.
type h264DecodeResult struct {
	YPtr     uintptr
	UPtr     uintptr
	VPtr     uintptr
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
}

// H264Decoder implements VideoDecoder with OpenH264.
type H264Decoder struct {
	lib    *h264Lib
	config VideoDecoderConfig

	handle uint64
	result *h264DecodeResult
	// parameter sets in Annex-B, prepended to the first sample
	prefix []byte
	mu     sync.Mutex
}

// NewH264Decoder creates a native H.264 decoder.
func NewH264Decoder(config VideoDecoderConfig) (*H264Decoder, error) {
	lib, err := loadH264Lib()
	if err != nil {
		return nil, errors.Wrap(err, "H.264 decoder not available")
	}
	if lib.decoderAvailable() == 0 {
		return nil, errors.New("H.264 decoder not available")
	}

	threads := int32(4)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}
	handle := lib.decoderCreate(threads)
	if handle == 0 {
		return nil, errors.Errorf("create H.264 decoder: %s", lib.lastError())
	}

	d := &H264Decoder{
		lib:    lib,
		config: config,
		handle: handle,
		result: &h264DecodeResult{},
	}
	if len(config.CSD) > 0 {
		ps := h264.AnnexB(config.CSD)
		prefix, err := ps.Marshal()
		if err != nil {
			lib.decoderDestroy(handle)
			return nil, errors.Wrap(err, "marshal parameter sets")
		}
		d.prefix = prefix
	}
	return d, nil
}

// Decode implements VideoDecoder.
func (d *H264Decoder) Decode(sample *Sample) (*VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}
	if len(sample.Data) == 0 {
		return nil, nil
	}

	data := sample.Data
	if d.prefix != nil {
		data = append(d.prefix, data...)
		d.prefix = nil
	}

	out := d.result
	n := d.lib.decoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if n < 0 {
		return nil, errors.Errorf("decode failed: %s", d.lib.lastError())
	}
	if n == 0 {
		return nil, nil
	}
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, errors.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, out.Width, out.Height)
	}

	w, h := int(out.Width), int(out.Height)
	frame := NewI420Frame(w, h)
	frame.PTS = sample.PTS
	copyPlane(frame.Data[0], frame.Stride[0], out.YPtr, int(out.YStride), w, h)
	uvW, uvH := (w+1)/2, (h+1)/2
	copyPlane(frame.Data[1], frame.Stride[1], out.UPtr, int(out.UVStride), uvW, uvH)
	copyPlane(frame.Data[2], frame.Stride[2], out.VPtr, int(out.UVStride), uvW, uvH)
	return frame, nil
}

// Flush implements VideoDecoder. OpenH264 emits frames as they are decoded.
func (d *H264Decoder) Flush() ([]*VideoFrame, error) {
	return nil, nil
}

// Codec implements VideoDecoder.
func (d *H264Decoder) Codec() VideoCodec { return VideoCodecH264 }

// Provider implements VideoDecoder.
func (d *H264Decoder) Provider() Provider { return ProviderOpenH264 }

// Close implements VideoDecoder.
func (d *H264Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		d.lib.decoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	if IsH264EncoderAvailable() {
		RegisterVideoEncoder(VideoCodecH264, ProviderX264, func(c VideoEncoderConfig) (VideoEncoder, error) {
			return NewH264Encoder(c)
		})
	}
	if IsH264DecoderAvailable() {
		RegisterVideoDecoder(VideoCodecH264, ProviderOpenH264, func(c VideoDecoderConfig) (VideoDecoder, error) {
			return NewH264Decoder(c)
		})
	}
}
