package transcoder

// MIME types used in Format.MIME. They follow the container-facing names so a
// Format can be carried between demuxer, codecs and muxer unchanged.
const (
	MIMEVideoAVC  = "video/avc"
	MIMEVideoHEVC = "video/hevc"
	MIMEVideoVP8  = "video/x-vnd.on2.vp8"
	MIMEVideoVP9  = "video/x-vnd.on2.vp9"
	MIMEVideoAV1  = "video/av01"

	MIMEAudioAAC  = "audio/mp4a-latm"
	MIMEAudioOpus = "audio/opus"
)

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecH265
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the container MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return MIMEVideoVP8
	case VideoCodecVP9:
		return MIMEVideoVP9
	case VideoCodecH264:
		return MIMEVideoAVC
	case VideoCodecH265:
		return MIMEVideoHEVC
	case VideoCodecAV1:
		return MIMEVideoAV1
	default:
		return ""
	}
}

// VideoCodecFromMIME maps a MIME type back to a VideoCodec.
func VideoCodecFromMIME(mime string) VideoCodec {
	switch mime {
	case MIMEVideoVP8:
		return VideoCodecVP8
	case MIMEVideoVP9:
		return VideoCodecVP9
	case MIMEVideoAVC:
		return VideoCodecH264
	case MIMEVideoHEVC:
		return VideoCodecH265
	case MIMEVideoAV1:
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// ClockRate returns the media timescale used for this codec in MP4 output.
func (c VideoCodec) ClockRate() uint32 {
	return 90000
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecAAC:
		return "AAC"
	default:
		return "Unknown"
	}
}

// MimeType returns the container MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return MIMEAudioOpus
	case AudioCodecAAC:
		return MIMEAudioAAC
	default:
		return ""
	}
}

// AudioCodecFromMIME maps a MIME type back to an AudioCodec.
func AudioCodecFromMIME(mime string) AudioCodec {
	switch mime {
	case MIMEAudioOpus:
		return AudioCodecOpus
	case MIMEAudioAAC:
		return AudioCodecAAC
	default:
		return AudioCodecUnknown
	}
}

// H264Profile defines H.264 encoding profiles.
type H264Profile int

const (
	H264ProfileBaseline H264Profile = iota
	H264ProfileMain
	H264ProfileHigh
)

func (p H264Profile) String() string {
	switch p {
	case H264ProfileBaseline:
		return "Baseline"
	case H264ProfileMain:
		return "Main"
	case H264ProfileHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// ProfileIDC returns the profile_idc value signalled in the SPS.
func (p H264Profile) ProfileIDC() uint8 {
	switch p {
	case H264ProfileMain:
		return 77
	case H264ProfileHigh:
		return 100
	default:
		return 66
	}
}
