package transcoder

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vp8Key   = []byte{0x10, 0x02, 0x00, 0x9D, 0x01, 0x2A, 0x40, 0x01, 0xB4, 0x00}
	vp8Inter = []byte{0x31, 0x01, 0x00, 0x00, 0x00}
)

// ivfFile builds an IVF stream with a 1/fps timebase and one frame per tick.
func ivfFile(fourcc string, w, h, fps int, numFrames uint32, frames ...[]byte) []byte {
	return ivfFileTimebase(fourcc, w, h, uint32(fps), 1, 1, numFrames, frames...)
}

// ivfFileTimebase builds an IVF stream with a num/den timebase where frame i
// is stamped i*step ticks.
func ivfFileTimebase(fourcc string, w, h int, den, num uint32, step uint64, numFrames uint32, frames ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString(fourcc)
	binary.Write(&buf, binary.LittleEndian, uint16(w))
	binary.Write(&buf, binary.LittleEndian, uint16(h))
	binary.Write(&buf, binary.LittleEndian, den) // timebase denominator
	binary.Write(&buf, binary.LittleEndian, num) // timebase numerator
	binary.Write(&buf, binary.LittleEndian, numFrames)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	for i, f := range frames {
		binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		binary.Write(&buf, binary.LittleEndian, uint64(i)*step)
		buf.Write(f)
	}
	return buf.Bytes()
}

func TestIVFDemuxer_ReadsFrames(t *testing.T) {
	data := ivfFile("VP80", 640, 360, 25, 3, vp8Key, vp8Inter, vp8Inter)
	d, err := NewIVFDemuxer(bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, 1, d.TrackCount())
	f := d.TrackFormat(0)
	assert.Equal(t, MIMEVideoVP8, f.MIME)
	assert.Equal(t, 640, f.Width)
	assert.Equal(t, 360, f.Height)
	assert.Equal(t, 25.0, f.FrameRate)
	assert.Nil(t, d.TrackFormat(1))

	// Nothing is delivered until the track is selected.
	_, _, err = d.PeekSample()
	assert.Equal(t, io.EOF, err)
	assert.ErrorIs(t, d.SelectTrack(1), ErrInvalidArgument)
	require.NoError(t, d.SelectTrack(0))

	samples := readAll(t, d)[0]
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, int64(i)*40_000, s.PTS)
		assert.Equal(t, i == 0, s.IsSync(), "frame %d", i)
	}
	assert.Equal(t, vp8Inter, samples[1].Data)

	dur, err := d.Duration()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Millisecond, dur)

	rot, err := d.Rotation()
	require.NoError(t, err)
	assert.Zero(t, rot)

	assert.Equal(t, io.EOF, d.Advance())
	require.NoError(t, d.Close())
}

func TestIVFDemuxer_Timestamps(t *testing.T) {
	tests := []struct {
		name     string
		den, num uint32
		step     uint64
		want     []int64
	}{
		{"30 fps", 30, 1, 1, []int64{0, 33_333, 66_666, 100_000}},
		{"ntsc", 30000, 1001, 1, []int64{0, 33_366, 66_733, 100_100}},
		{"millisecond clock", 1000, 1, 40, []int64{0, 40_000, 80_000, 120_000}},
		{"90 kHz clock", 90000, 1, 3000, []int64{0, 33_333, 66_666, 100_000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := ivfFileTimebase("VP80", 64, 64, tt.den, tt.num, tt.step, 4, vp8Key, vp8Inter, vp8Inter, vp8Inter)
			d, err := NewIVFDemuxer(bytes.NewReader(data))
			require.NoError(t, err)
			require.NoError(t, d.SelectTrack(0))

			samples := readAll(t, d)[0]
			require.Len(t, samples, len(tt.want))
			for i, s := range samples {
				assert.Equal(t, tt.want[i], s.PTS, "frame %d", i)
			}
		})
	}
}

func TestIVFDemuxer_UnknownFrameCount(t *testing.T) {
	d, err := NewIVFDemuxer(bytes.NewReader(ivfFile("VP80", 64, 64, 30, 0, vp8Key)))
	require.NoError(t, err)
	_, err = d.Duration()
	assert.Error(t, err)
}

func TestIVFDemuxer_RejectsBadHeaders(t *testing.T) {
	_, err := NewIVFDemuxer(bytes.NewReader(ivfFile("H264", 64, 64, 30, 1, vp8Key)))
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = NewIVFDemuxer(bytes.NewReader(ivfFile("VP80", 64, 64, 0, 1, vp8Key)))
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = NewIVFDemuxer(bytes.NewReader([]byte("DKIF")))
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	_, err = NewIVFDemuxer(bytes.NewReader(ivfFileTimebase("VP80", 64, 64, 30, 0, 1, 1, vp8Key)))
	assert.ErrorIs(t, err, ErrUnsupportedInput, "zero numerator")
}

func TestOpenSource_IVF(t *testing.T) {
	src, err := OpenSource(bytes.NewReader(ivfFile("VP80", 320, 240, 30, 2, vp8Key, vp8Inter)))
	require.NoError(t, err)
	assert.Equal(t, MIMEVideoVP8, src.TrackFormat(0).MIME)
	assert.Len(t, readAll(t, src)[0], 2)
}
