package transcoder

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec    VideoCodec // Codec type
	Provider Provider   // ProviderAuto lets the registry choose

	Width            int     // Frame width
	Height           int     // Frame height
	FPS              float64 // Target framerate
	BitrateBps       int     // Target bitrate in bits per second
	KeyframeInterval int     // Seconds between keyframes (0 = encoder default)
	Threads          int     // Encoder threads (0 = auto)

	H264Profile H264Profile
}

// DefaultVideoEncoderConfig returns a default encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:            codec,
		Provider:         ProviderAuto,
		Width:            width,
		Height:           height,
		FPS:              30,
		BitrateBps:       1500000,
		KeyframeInterval: 3,
	}
}

// EncoderConfigFromFormat builds an encoder configuration for a requested
// output format.
func EncoderConfigFromFormat(f *Format) VideoEncoderConfig {
	cfg := DefaultVideoEncoderConfig(VideoCodecFromMIME(f.MIME), f.Width, f.Height)
	if f.FrameRate > 0 {
		cfg.FPS = f.FrameRate
	}
	if f.BitRate > 0 {
		cfg.BitrateBps = f.BitRate
	}
	if f.KeyframeInterval > 0 {
		cfg.KeyframeInterval = f.KeyframeInterval
	}
	cfg.H264Profile = f.Profile
	return cfg
}

// VideoEncoder encodes raw frames into compressed samples.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a frame. It returns nil while the encoder is buffering.
	// The returned sample carries the frame's PTS and a sync flag on keyframes.
	// The frame is not retained after Encode returns. Output must be in
	// presentation order: the muxer has no separate decode timestamps.
	Encode(frame *VideoFrame) (*Sample, error)

	// Flush drains any buffered output at end of stream.
	Flush() ([]*Sample, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	Codec() VideoCodec
	Provider() Provider
}

// VideoDecoderConfig configures a video decoder.
type VideoDecoderConfig struct {
	Codec    VideoCodec
	Provider Provider
	Threads  int

	// CSD is fed to the decoder ahead of the first sample (SPS/PPS for H.264).
	CSD [][]byte
}

// DecoderConfigFromFormat builds a decoder configuration for an input format.
func DecoderConfigFromFormat(f *Format) VideoDecoderConfig {
	return VideoDecoderConfig{
		Codec:    VideoCodecFromMIME(f.MIME),
		Provider: ProviderAuto,
		CSD:      f.CSD,
	}
}

// VideoDecoder decodes compressed samples into raw frames.
type VideoDecoder interface {
	io.Closer

	// Decode decodes one sample. It returns nil while the decoder is buffering.
	// The frame's PTS is taken from the sample.
	Decode(sample *Sample) (*VideoFrame, error)

	// Flush drains any buffered frames at end of stream.
	Flush() ([]*VideoFrame, error)

	Codec() VideoCodec
	Provider() Provider
}

// VideoEncoderFactory creates an encoder for a configuration.
type VideoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)

// VideoDecoderFactory creates a decoder for a configuration.
type VideoDecoderFactory func(VideoDecoderConfig) (VideoDecoder, error)

// --- Registry ---

type codecRegistry struct {
	mu sync.RWMutex

	// codec -> provider -> factory
	encoders map[VideoCodec]map[Provider]VideoEncoderFactory
	decoders map[VideoCodec]map[Provider]VideoDecoderFactory

	encoderDefaults map[VideoCodec]Provider
	decoderDefaults map[VideoCodec]Provider
}

var globalCodecRegistry = newCodecRegistry()

func newCodecRegistry() *codecRegistry {
	return &codecRegistry{
		encoders:        make(map[VideoCodec]map[Provider]VideoEncoderFactory),
		decoders:        make(map[VideoCodec]map[Provider]VideoDecoderFactory),
		encoderDefaults: make(map[VideoCodec]Provider),
		decoderDefaults: make(map[VideoCodec]Provider),
	}
}

// preferProvider reports whether candidate should replace current as default.
// Permissive licenses win.
func preferProvider(current Provider, exists bool, candidate Provider) bool {
	return !exists || (candidate.License().Permissive() && !current.License().Permissive())
}

func (r *codecRegistry) registerEncoder(codec VideoCodec, provider Provider, factory VideoEncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoders[codec] == nil {
		r.encoders[codec] = make(map[Provider]VideoEncoderFactory)
	}
	r.encoders[codec][provider] = factory

	current, exists := r.encoderDefaults[codec]
	if preferProvider(current, exists, provider) {
		r.encoderDefaults[codec] = provider
	}
}

func (r *codecRegistry) registerDecoder(codec VideoCodec, provider Provider, factory VideoDecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.decoders[codec] == nil {
		r.decoders[codec] = make(map[Provider]VideoDecoderFactory)
	}
	r.decoders[codec][provider] = factory

	current, exists := r.decoderDefaults[codec]
	if preferProvider(current, exists, provider) {
		r.decoderDefaults[codec] = provider
	}
}

func (r *codecRegistry) setEncoderDefault(codec VideoCodec, provider Provider) error {
	if !provider.CanEncode() {
		return errors.Wrapf(ErrInvalidArgument, "%s cannot encode", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.encoders[codec][provider]; !ok || !provider.Available() {
		return errors.Wrapf(ErrProviderNotFound, "%s encoder for %s", provider, codec)
	}
	r.encoderDefaults[codec] = provider
	return nil
}

func (r *codecRegistry) encoderProviders(codec VideoCodec) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(r.encoders[codec]))
	for p := range r.encoders[codec] {
		if p.Available() {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (r *codecRegistry) newEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	r.mu.RLock()
	providers := r.encoders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = r.encoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	r.mu.RUnlock()

	if providers == nil {
		return nil, errors.Wrapf(ErrCodecNotSupported, "no encoders for %s", config.Codec)
	}
	if !ok || !p.Available() {
		return nil, errors.Wrapf(ErrProviderNotFound, "%s encoder for %s", p, config.Codec)
	}
	return factory(config)
}

func (r *codecRegistry) newDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	r.mu.RLock()
	providers := r.decoders[config.Codec]
	p := config.Provider
	if p == ProviderAuto {
		p = r.decoderDefaults[config.Codec]
	}
	factory, ok := providers[p]
	r.mu.RUnlock()

	if providers == nil {
		return nil, errors.Wrapf(ErrCodecNotSupported, "no decoders for %s", config.Codec)
	}
	if !ok || !p.Available() {
		return nil, errors.Wrapf(ErrProviderNotFound, "%s decoder for %s", p, config.Codec)
	}
	return factory(config)
}

// RegisterVideoEncoder registers an encoder factory for a codec and provider
// and marks the provider available.
func RegisterVideoEncoder(codec VideoCodec, provider Provider, factory VideoEncoderFactory) {
	globalCodecRegistry.registerEncoder(codec, provider, factory)
	setProviderAvailable(provider)
}

// RegisterVideoDecoder registers a decoder factory for a codec and provider
// and marks the provider available.
func RegisterVideoDecoder(codec VideoCodec, provider Provider, factory VideoDecoderFactory) {
	globalCodecRegistry.registerDecoder(codec, provider, factory)
	setProviderAvailable(provider)
}

// SetDefaultVideoEncoderProvider sets the encoder provider used for codec
// when a config asks for ProviderAuto. The provider must be registered for
// codec.
func SetDefaultVideoEncoderProvider(codec VideoCodec, provider Provider) error {
	return globalCodecRegistry.setEncoderDefault(codec, provider)
}

// NewVideoEncoder creates a video encoder from the global registry.
func NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	return globalCodecRegistry.newEncoder(config)
}

// NewVideoDecoder creates a video decoder from the global registry.
func NewVideoDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	return globalCodecRegistry.newDecoder(config)
}

// VideoEncoderProviders returns the available encoder providers for a
// codec in provider order.
func VideoEncoderProviders(codec VideoCodec) []Provider {
	return globalCodecRegistry.encoderProviders(codec)
}

// CodecFactory creates the codecs a Re-Encode pipeline needs.
type CodecFactory interface {
	NewVideoDecoder(input *Format) (VideoDecoder, error)
	NewVideoEncoder(output *Format) (VideoEncoder, error)
}

// RegistryCodecs is a CodecFactory backed by the global provider registry.
type RegistryCodecs struct{}

// NewVideoDecoder implements CodecFactory.
func (RegistryCodecs) NewVideoDecoder(input *Format) (VideoDecoder, error) {
	return NewVideoDecoder(DecoderConfigFromFormat(input))
}

// NewVideoEncoder implements CodecFactory.
func (RegistryCodecs) NewVideoEncoder(output *Format) (VideoEncoder, error) {
	return NewVideoEncoder(EncoderConfigFromFormat(output))
}
