package transcoder

import (
	"errors"
	"testing"
)

func TestEncoderConfigFromFormat(t *testing.T) {
	f := NewVideoFormat(MIMEVideoAVC, 1280, 720)
	cfg := EncoderConfigFromFormat(f)
	if cfg.Codec != VideoCodecH264 || cfg.Width != 1280 || cfg.Height != 720 {
		t.Fatalf("config = %+v", cfg)
	}
	// Unset fields keep the defaults.
	if cfg.FPS != 30 || cfg.BitrateBps != 1500000 || cfg.KeyframeInterval != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	f.FrameRate = 25
	f.BitRate = 8_000_000
	f.KeyframeInterval = 1
	f.Profile = H264ProfileHigh
	cfg = EncoderConfigFromFormat(f)
	if cfg.FPS != 25 || cfg.BitrateBps != 8_000_000 || cfg.KeyframeInterval != 1 || cfg.H264Profile != H264ProfileHigh {
		t.Errorf("format fields not applied: %+v", cfg)
	}
}

func TestDecoderConfigFromFormat(t *testing.T) {
	cfg := DecoderConfigFromFormat(videoFormat())
	if cfg.Codec != VideoCodecH264 || cfg.Provider != ProviderAuto {
		t.Errorf("config = %+v", cfg)
	}
	if len(cfg.CSD) != 2 {
		t.Errorf("CSD not carried: %d entries", len(cfg.CSD))
	}
}

func TestPreferProvider(t *testing.T) {
	tests := []struct {
		name      string
		current   Provider
		exists    bool
		candidate Provider
		want      bool
	}{
		{"first registration", ProviderAuto, false, ProviderX264, true},
		{"permissive replaces GPL", ProviderX264, true, ProviderOpenH264, true},
		{"GPL does not replace permissive", ProviderOpenH264, true, ProviderX264, false},
		{"permissive keeps first permissive", ProviderOpenH264, true, ProviderExternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preferProvider(tt.current, tt.exists, tt.candidate); got != tt.want {
				t.Errorf("preferProvider() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodecRegistry(t *testing.T) {
	r := newCodecRegistry()
	errReached := errors.New("factory reached")

	_, err := r.newEncoder(VideoEncoderConfig{Codec: VideoCodecAV1})
	if !errors.Is(err, ErrCodecNotSupported) {
		t.Errorf("unregistered codec: err = %v, want ErrCodecNotSupported", err)
	}

	setProviderAvailable(ProviderExternal)
	r.registerEncoder(VideoCodecAV1, ProviderExternal, func(VideoEncoderConfig) (VideoEncoder, error) {
		return nil, errReached
	})
	r.registerDecoder(VideoCodecAV1, ProviderExternal, func(VideoDecoderConfig) (VideoDecoder, error) {
		return nil, errReached
	})

	if _, err := r.newEncoder(VideoEncoderConfig{Codec: VideoCodecAV1}); !errors.Is(err, errReached) {
		t.Errorf("auto provider: err = %v, want factory error", err)
	}
	if _, err := r.newDecoder(VideoDecoderConfig{Codec: VideoCodecAV1}); !errors.Is(err, errReached) {
		t.Errorf("decoder: err = %v, want factory error", err)
	}

	_, err = r.newEncoder(VideoEncoderConfig{Codec: VideoCodecAV1, Provider: ProviderLibvpx})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("unregistered provider: err = %v, want ErrProviderNotFound", err)
	}
}

func TestCodecRegistry_EncoderDefault(t *testing.T) {
	r := newCodecRegistry()
	setProviderAvailable(ProviderExternal)
	errExternal := errors.New("external encoder")
	r.registerEncoder(VideoCodecAV1, ProviderExternal, func(VideoEncoderConfig) (VideoEncoder, error) {
		return nil, errExternal
	})

	if err := r.setEncoderDefault(VideoCodecAV1, ProviderAuto); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("auto as default: err = %v, want ErrInvalidArgument", err)
	}
	if err := r.setEncoderDefault(VideoCodecAV1, ProviderOpenH264); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("unregistered default: err = %v, want ErrProviderNotFound", err)
	}
	if err := r.setEncoderDefault(VideoCodecAV1, ProviderExternal); err != nil {
		t.Fatalf("setEncoderDefault: %v", err)
	}
	if _, err := r.newEncoder(VideoEncoderConfig{Codec: VideoCodecAV1}); !errors.Is(err, errExternal) {
		t.Errorf("auto after default: err = %v, want external factory", err)
	}

	got := r.encoderProviders(VideoCodecAV1)
	if len(got) != 1 || got[0] != ProviderExternal {
		t.Errorf("encoderProviders = %v, want [external]", got)
	}
	if got := r.encoderProviders(VideoCodecVP9); len(got) != 0 {
		t.Errorf("encoderProviders(VP9) = %v, want none", got)
	}
}

func TestParseProvider(t *testing.T) {
	for p := ProviderAuto; p < providerCount; p++ {
		got, err := ParseProvider(p.String())
		if err != nil || got != p {
			t.Errorf("ParseProvider(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := ParseProvider("ffmpeg"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown provider: err = %v, want ErrInvalidArgument", err)
	}
}

func TestProvider_Metadata(t *testing.T) {
	if ProviderX264.License().Permissive() {
		t.Error("x264 reported as permissive")
	}
	if !ProviderOpenH264.CanDecode() || ProviderX264.CanDecode() {
		t.Error("decode capability mismatch")
	}
	if !ProviderX264.CanEncode() || ProviderAuto.CanEncode() {
		t.Error("encode capability mismatch")
	}
	if got := Provider(200).String(); got != "unknown" {
		t.Errorf("out of range provider = %q", got)
	}
	if Provider(200).Available() {
		t.Error("out of range provider reported available")
	}
}
