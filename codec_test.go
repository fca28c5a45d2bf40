package transcoder

import (
	"testing"
)

func TestVideoCodec_String(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, "VP8"},
		{VideoCodecVP9, "VP9"},
		{VideoCodecH264, "H264"},
		{VideoCodecH265, "H265"},
		{VideoCodecAV1, "AV1"},
		{VideoCodecUnknown, "Unknown"},
		{VideoCodec(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("VideoCodec.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoCodec_MimeRoundTrip(t *testing.T) {
	tests := []struct {
		codec VideoCodec
		want  string
	}{
		{VideoCodecVP8, MIMEVideoVP8},
		{VideoCodecVP9, MIMEVideoVP9},
		{VideoCodecH264, "video/avc"},
		{VideoCodecH265, MIMEVideoHEVC},
		{VideoCodecAV1, MIMEVideoAV1},
	}

	for _, tt := range tests {
		t.Run(tt.codec.String(), func(t *testing.T) {
			if got := tt.codec.MimeType(); got != tt.want {
				t.Errorf("VideoCodec.MimeType() = %v, want %v", got, tt.want)
			}
			if got := VideoCodecFromMIME(tt.want); got != tt.codec {
				t.Errorf("VideoCodecFromMIME(%q) = %v, want %v", tt.want, got, tt.codec)
			}
		})
	}

	if VideoCodecUnknown.MimeType() != "" || VideoCodecFromMIME("video/mpeg2") != VideoCodecUnknown {
		t.Error("unknown codec must map to empty MIME and back")
	}
}

func TestVideoCodec_ClockRate(t *testing.T) {
	// All video codecs should use 90kHz clock
	codecs := []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecH264, VideoCodecH265, VideoCodecAV1}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			if got := codec.ClockRate(); got != 90000 {
				t.Errorf("VideoCodec.ClockRate() = %v, want 90000", got)
			}
		})
	}
}

func TestAudioCodec_String(t *testing.T) {
	tests := []struct {
		codec AudioCodec
		want  string
		mime  string
	}{
		{AudioCodecOpus, "Opus", MIMEAudioOpus},
		{AudioCodecAAC, "AAC", MIMEAudioAAC},
		{AudioCodecUnknown, "Unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.codec.String(); got != tt.want {
				t.Errorf("AudioCodec.String() = %v, want %v", got, tt.want)
			}
			if got := tt.codec.MimeType(); got != tt.mime {
				t.Errorf("AudioCodec.MimeType() = %v, want %v", got, tt.mime)
			}
			if tt.mime != "" && AudioCodecFromMIME(tt.mime) != tt.codec {
				t.Errorf("AudioCodecFromMIME(%q) mismatch", tt.mime)
			}
		})
	}
}

func TestH264Profile_String(t *testing.T) {
	tests := []struct {
		profile H264Profile
		want    string
		idc     uint8
	}{
		{H264ProfileBaseline, "Baseline", 66},
		{H264ProfileMain, "Main", 77},
		{H264ProfileHigh, "High", 100},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.profile.String(); got != tt.want {
				t.Errorf("H264Profile.String() = %v, want %v", got, tt.want)
			}
			if got := tt.profile.ProfileIDC(); got != tt.idc {
				t.Errorf("H264Profile.ProfileIDC() = %v, want %v", got, tt.idc)
			}
		})
	}
}
