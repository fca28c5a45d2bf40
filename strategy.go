package transcoder

// FormatStrategy chooses output formats from input formats. A nil video
// result means the strategy declines to transcode; a nil audio result means
// pass-through.
type FormatStrategy interface {
	VideoOutputFormat(input *Format) *Format
	AudioOutputFormat(input *Format) *Format
}

const (
	presetBitRate          = 8_000_000
	presetFrameRate        = 30
	presetKeyframeInterval = 3
)

// presetVideoFormat returns the H.264 output shared by the size presets.
func presetVideoFormat(width, height int) *Format {
	f := NewVideoFormat(MIMEVideoAVC, width, height)
	f.BitRate = presetBitRate
	f.FrameRate = presetFrameRate
	f.KeyframeInterval = presetKeyframeInterval
	f.Profile = H264ProfileBaseline
	return f
}

// longShort returns the dimensions of f with the longer one first.
func longShort(f *Format) (long, short int) {
	if f.Width >= f.Height {
		return f.Width, f.Height
	}
	return f.Height, f.Width
}

// Preset720pStrategy downscales 16:9 video to 1280x720 H.264. Sources that
// are already 720p or smaller, or not 16:9, are declined.
type Preset720pStrategy struct{}

// VideoOutputFormat implements FormatStrategy.
func (Preset720pStrategy) VideoOutputFormat(input *Format) *Format {
	if input == nil || input.Width <= 0 || input.Height <= 0 {
		return nil
	}
	long, short := longShort(input)
	if long*9 != short*16 {
		return nil
	}
	if short <= 720 {
		return nil
	}
	if input.Width >= input.Height {
		return presetVideoFormat(1280, 720)
	}
	return presetVideoFormat(720, 1280)
}

// AudioOutputFormat implements FormatStrategy. Audio passes through.
func (Preset720pStrategy) AudioOutputFormat(*Format) *Format { return nil }

// Preset960x540Strategy downscales 16:9 video to 960x540 H.264.
type Preset960x540Strategy struct{}

// VideoOutputFormat implements FormatStrategy.
func (Preset960x540Strategy) VideoOutputFormat(input *Format) *Format {
	if input == nil || input.Width <= 0 || input.Height <= 0 {
		return nil
	}
	long, short := longShort(input)
	if long*9 != short*16 {
		return nil
	}
	if input.Width >= input.Height {
		return presetVideoFormat(960, 540)
	}
	return presetVideoFormat(540, 960)
}

// AudioOutputFormat implements FormatStrategy. Audio passes through.
func (Preset960x540Strategy) AudioOutputFormat(*Format) *Format { return nil }

// FixedStrategy re-encodes any video to Video, keeping the source size
// when Video's width or height is zero.
type FixedStrategy struct {
	Video *Format
	Audio *Format
}

// VideoOutputFormat implements FormatStrategy.
func (s FixedStrategy) VideoOutputFormat(input *Format) *Format {
	if s.Video == nil || input == nil {
		return nil
	}
	f := s.Video.Clone()
	if f.Width == 0 || f.Height == 0 {
		f.Width, f.Height = input.Width, input.Height
	}
	if f.FrameRate == 0 {
		f.FrameRate = input.FrameRate
	}
	return f
}

// AudioOutputFormat implements FormatStrategy.
func (s FixedStrategy) AudioOutputFormat(*Format) *Format { return s.Audio.Clone() }
