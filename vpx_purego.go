//go:build (darwin || linux) && !novpx

// VP8/VP9 decoding via libmedia_vpx, a thin libvpx wrapper loaded at runtime
// with purego. Only decoding is wired: IVF inputs are VP8 or VP9 and the
// output is always H.264.

package transcoder

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1
)

// vpxLib holds the resolved libmedia_vpx decoder entry points.
type vpxLib struct {
	decoderCreate  func(codec, threads int32) uint64
	decoderDecode  func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	decoderDestroy func(decoder uint64)

	getError       func() uintptr
	codecAvailable func(codec int32) int32
}

var (
	vpxOnce    sync.Once
	vpxNative  *vpxLib
	vpxLoadErr error
)

func loadVPXLib() (*vpxLib, error) {
	vpxOnce.Do(func() {
		vpxNative, vpxLoadErr = openVPXLib()
	})
	return vpxNative, vpxLoadErr
}

func openVPXLib() (*vpxLib, error) {
	handle, err := dlopenFirst(nativeLibPaths("media_vpx", "TRANSCODER_VPX_LIB"))
	if err != nil {
		return nil, errors.Wrap(err, "load libmedia_vpx")
	}

	lib := &vpxLib{}
	symbols := []struct {
		fptr any
		name string
	}{
		{&lib.decoderCreate, "media_vpx_decoder_create"},
		{&lib.decoderDecode, "media_vpx_decoder_decode_v2"},
		{&lib.decoderDestroy, "media_vpx_decoder_destroy"},
		{&lib.getError, "media_vpx_get_error"},
		{&lib.codecAvailable, "media_vpx_codec_available"},
	}
	for _, s := range symbols {
		sym, err := purego.Dlsym(handle, s.name)
		if err != nil {
			purego.Dlclose(handle)
			return nil, errors.Wrapf(err, "libmedia_vpx: missing %s", s.name)
		}
		purego.RegisterFunc(s.fptr, sym)
	}
	return lib, nil
}

func (l *vpxLib) lastError() string {
	if msg := goStringFromPtr(l.getError()); msg != "" {
		return msg
	}
	return "unknown error"
}

func vpxCodecType(codec VideoCodec) (int32, bool) {
	switch codec {
	case VideoCodecVP8:
		return mediaVPXCodecVP8, true
	case VideoCodecVP9:
		return mediaVPXCodecVP9, true
	default:
		return 0, false
	}
}

// IsVPXDecoderAvailable reports whether libmedia_vpx can decode codec.
func IsVPXDecoderAvailable(codec VideoCodec) bool {
	ct, ok := vpxCodecType(codec)
	if !ok {
		return false
	}
	lib, err := loadVPXLib()
	return err == nil && lib.codecAvailable(ct) != 0
}

// vpxDecodeResult matches media_vpx_decode_result_t. It must be
// heap-allocated for the same reason as h264DecodeResult.
type vpxDecodeResult struct {
	YPtr     uint64
	UPtr     uint64
	VPtr     uint64
	YStride  int32
	UVStride int32
	Width    int32
	Height   int32
	Result   int32 // 1 decoded, 0 buffering, <0 error
	Reserved int32
}

// VPXDecoder implements VideoDecoder with libvpx.
type VPXDecoder struct {
	lib    *vpxLib
	config VideoDecoderConfig

	handle uint64
	result *vpxDecodeResult
	mu     sync.Mutex
}

// NewVPXDecoder creates a native VP8 or VP9 decoder for config.Codec.
func NewVPXDecoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	ct, ok := vpxCodecType(config.Codec)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidArgument, "libvpx cannot decode %s", config.Codec)
	}
	lib, err := loadVPXLib()
	if err != nil {
		return nil, errors.Wrapf(err, "%s decoder not available", config.Codec)
	}

	threads := int32(4)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}
	handle := lib.decoderCreate(ct, threads)
	if handle == 0 {
		return nil, errors.Errorf("create %s decoder: %s", config.Codec, lib.lastError())
	}

	return &VPXDecoder{
		lib:    lib,
		config: config,
		handle: handle,
		result: &vpxDecodeResult{},
	}, nil
}

// Decode implements VideoDecoder.
func (d *VPXDecoder) Decode(sample *Sample) (*VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil, errors.New("decoder closed")
	}
	if len(sample.Data) == 0 {
		return nil, nil
	}

	out := d.result
	n := d.lib.decoderDecode(
		d.handle,
		uintptr(unsafe.Pointer(&sample.Data[0])),
		int32(len(sample.Data)),
		uintptr(unsafe.Pointer(out)),
	)
	runtime.KeepAlive(sample.Data)
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
	copyPlane(frame.Data[0], frame.Stride[0], uintptr(out.YPtr), int(out.YStride), w, h)
	uvW, uvH := (w+1)/2, (h+1)/2
	copyPlane(frame.Data[1], frame.Stride[1], uintptr(out.UPtr), int(out.UVStride), uvW, uvH)
	copyPlane(frame.Data[2], frame.Stride[2], uintptr(out.VPtr), int(out.UVStride), uvW, uvH)
	return frame, nil
}

// Flush implements VideoDecoder. libvpx emits frames as they are decoded.
func (d *VPXDecoder) Flush() ([]*VideoFrame, error) {
	return nil, nil
}

// Codec implements VideoDecoder.
func (d *VPXDecoder) Codec() VideoCodec { return d.config.Codec }

// Provider implements VideoDecoder.
func (d *VPXDecoder) Provider() Provider { return ProviderLibvpx }

// Close implements VideoDecoder.
func (d *VPXDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		d.lib.decoderDestroy(d.handle)
		d.handle = 0
	}
	return nil
}

func init() {
	for _, codec := range []VideoCodec{VideoCodecVP8, VideoCodecVP9} {
		if IsVPXDecoderAvailable(codec) {
			RegisterVideoDecoder(codec, ProviderLibvpx, func(c VideoDecoderConfig) (VideoDecoder, error) {
				return NewVPXDecoder(c)
			})
		}
	}
}
