// Core frame and sample types used across the transcoder package.
package transcoder

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	default:
		return "Unknown"
	}
}

// VideoFrame represents a decoded video frame.
// The Data slices may alias decoder-owned memory; Clone before retaining.
type VideoFrame struct {
	Data   [][]byte    // Plane data
	Stride []int       // Stride for each plane in bytes
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
	PTS    int64       // Presentation timestamp in microseconds
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		PTS:    f.PTS,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewI420Frame allocates a tightly packed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	uvW, uvH := (width+1)/2, (height+1)/2
	return &VideoFrame{
		Data: [][]byte{
			make([]byte, width*height),
			make([]byte, uvW*uvH),
			make([]byte, uvW*uvH),
		},
		Stride: []int{width, uvW, uvW},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// SampleFlags describe a compressed sample.
type SampleFlags uint32

const (
	// SampleFlagSync marks a sample that can be decoded on its own.
	SampleFlagSync SampleFlags = 1 << iota
	// SampleFlagEndOfStream marks the last sample of a track. It may carry
	// no data.
	SampleFlagEndOfStream
)

// Has reports whether all bits in flag are set.
func (f SampleFlags) Has(flag SampleFlags) bool { return f&flag == flag }

// Sample is one compressed access unit.
type Sample struct {
	Data  []byte
	PTS   int64 // microseconds
	Flags SampleFlags
}

// Size returns the payload size in bytes.
func (s *Sample) Size() int { return len(s.Data) }

// IsSync reports whether the sample is a sync (key) sample.
func (s *Sample) IsSync() bool { return s.Flags.Has(SampleFlagSync) }

// IsEndOfStream reports whether the sample carries the end-of-stream flag.
func (s *Sample) IsEndOfStream() bool { return s.Flags.Has(SampleFlagEndOfStream) }

// Clone creates a deep copy of the sample.
func (s *Sample) Clone() *Sample {
	clone := &Sample{PTS: s.PTS, Flags: s.Flags}
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return clone
}

// endOfStreamSample returns an empty sample carrying only the end-of-stream flag.
func endOfStreamSample(pts int64) *Sample {
	return &Sample{PTS: pts, Flags: SampleFlagEndOfStream}
}
