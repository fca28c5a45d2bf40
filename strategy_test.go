package transcoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreset720pStrategy(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          *[2]int
	}{
		{"1080p landscape", 1920, 1080, &[2]int{1280, 720}},
		{"1080p portrait", 1080, 1920, &[2]int{720, 1280}},
		{"4K", 3840, 2160, &[2]int{1280, 720}},
		{"already 720p", 1280, 720, nil},
		{"smaller", 640, 360, nil},
		{"4:3", 1440, 1080, nil},
		{"no size", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Preset720pStrategy{}.VideoOutputFormat(NewVideoFormat(MIMEVideoAVC, tt.width, tt.height))
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, MIMEVideoAVC, got.MIME)
			assert.Equal(t, tt.want[0], got.Width)
			assert.Equal(t, tt.want[1], got.Height)
			assert.Equal(t, 8_000_000, got.BitRate)
			assert.Equal(t, 30.0, got.FrameRate)
			assert.Equal(t, 3, got.KeyframeInterval)
		})
	}

	assert.Nil(t, Preset720pStrategy{}.VideoOutputFormat(nil))
	assert.Nil(t, Preset720pStrategy{}.AudioOutputFormat(audioFormat()))
}

func TestPreset960x540Strategy(t *testing.T) {
	got := Preset960x540Strategy{}.VideoOutputFormat(NewVideoFormat(MIMEVideoVP8, 1280, 720))
	require.NotNil(t, got)
	assert.Equal(t, [2]int{960, 540}, [2]int{got.Width, got.Height})

	got = Preset960x540Strategy{}.VideoOutputFormat(NewVideoFormat(MIMEVideoVP8, 360, 640))
	require.NotNil(t, got)
	assert.Equal(t, [2]int{540, 960}, [2]int{got.Width, got.Height})

	assert.Nil(t, Preset960x540Strategy{}.VideoOutputFormat(NewVideoFormat(MIMEVideoVP8, 640, 480)))
}

func TestFixedStrategy(t *testing.T) {
	input := NewVideoFormat(MIMEVideoVP9, 640, 360)
	input.FrameRate = 25

	s := FixedStrategy{Video: &Format{MIME: MIMEVideoAVC, BitRate: 2_000_000}}
	got := s.VideoOutputFormat(input)
	require.NotNil(t, got)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 360, got.Height)
	assert.Equal(t, 25.0, got.FrameRate)

	// The configured format is not modified.
	assert.Zero(t, s.Video.Width)

	assert.Nil(t, FixedStrategy{}.VideoOutputFormat(input))
	assert.Nil(t, FixedStrategy{}.AudioOutputFormat(audioFormat()))
}
