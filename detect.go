package transcoder

import (
	"bytes"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// ContainerFormat identifies an input container.
type ContainerFormat int

const (
	ContainerUnknown ContainerFormat = iota
	ContainerMP4                     // ISO BMFF, progressive or fragmented
	ContainerIVF                     // WebM project IVF
)

func (c ContainerFormat) String() string {
	switch c {
	case ContainerMP4:
		return "mp4"
	case ContainerIVF:
		return "ivf"
	default:
		return "unknown"
	}
}

// sniffLen is how much of the input DetectContainer needs.
const sniffLen = 3072

// mp4MIMEs are the mimetype results that denote an ISO BMFF file.
var mp4MIMEs = []string{"video/mp4", "audio/mp4", "video/quicktime", "video/3gpp", "video/3gpp2", "audio/x-m4a"}

// DetectContainer identifies the container from the first bytes of a file.
func DetectContainer(header []byte) ContainerFormat {
	if len(header) >= 32 && string(header[0:4]) == "DKIF" {
		return ContainerIVF
	}

	mt := mimetype.Detect(header)
	for _, m := range mp4MIMEs {
		if mt.Is(m) {
			return ContainerMP4
		}
	}

	// Fragmented files may carry brands mimetype does not list.
	if len(header) >= 8 {
		switch string(header[4:8]) {
		case "ftyp", "moov", "styp":
			return ContainerMP4
		}
	}
	return ContainerUnknown
}

// sniffContainer reads the head of r, detects the container and rewinds r.
func sniffContainer(r io.ReadSeeker) (ContainerFormat, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return ContainerUnknown, errors.Wrap(err, "seek input")
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ContainerUnknown, errors.Wrap(err, "read input header")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return ContainerUnknown, errors.Wrap(err, "seek input")
	}
	return DetectContainer(head[:n]), nil
}

// isVP8Keyframe checks the VP8 frame tag and start code (RFC 6386 9.1).
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 || data[0]&0x01 != 0 {
		return false
	}
	return bytes.Equal(data[3:6], []byte{0x9D, 0x01, 0x2A})
}

// isVP9Keyframe reads the uncompressed header: frame_marker, profile,
// show_existing_frame and frame_type.
func isVP9Keyframe(data []byte) bool {
	if len(data) < 1 || data[0]>>6 != 0x02 {
		return false
	}
	profile := (data[0]>>5)&0x01 | (data[0]>>3)&0x02
	shift := uint(3)
	if profile == 3 {
		shift = 2 // reserved zero bit
	}
	showExisting := (data[0] >> shift) & 0x01
	frameType := (data[0] >> (shift - 1)) & 0x01
	return showExisting == 0 && frameType == 0
}

// isAV1Keyframe reports whether a temporal unit starts with a sequence
// header OBU, which encoders emit ahead of every key frame.
func isAV1Keyframe(data []byte) bool {
	for len(data) > 0 {
		header := data[0]
		if header>>7 != 0 {
			return false
		}
		obuType := (header >> 3) & 0x0F
		if obuType == 1 {
			return true
		}
		if header&0x02 == 0 {
			// no size field, the OBU runs to the end
			return false
		}
		off := 1
		if header&0x04 != 0 {
			off++
		}
		size, n := readLEB128(data[off:])
		if n == 0 {
			return false
		}
		off += n
		if uint64(len(data)-off) < size {
			return false
		}
		data = data[off+int(size):]
	}
	return false
}

func readLEB128(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// isKeyframe dispatches keyframe detection by codec.
func isKeyframe(codec VideoCodec, data []byte) bool {
	switch codec {
	case VideoCodecVP8:
		return isVP8Keyframe(data)
	case VideoCodecVP9:
		return isVP9Keyframe(data)
	case VideoCodecAV1:
		return isAV1Keyframe(data)
	default:
		return false
	}
}
