package transcoder

// ScaleMode defines how scaling handles aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit uses the whole source; callers size the target with
	// CalculateScaledSize to keep the aspect ratio.
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill crops the source to the target aspect ratio.
	ScaleModeFill
	// ScaleModeStretch maps the whole source onto the target (may distort).
	ScaleModeStretch
)

// VideoScaler scales I420 frames to a fixed target size.
// The returned frame is reused by the next Scale call.
type VideoScaler struct {
	dstWidth, dstHeight int
	mode                ScaleMode
	out                 *VideoFrame
}

// NewVideoScaler creates a scaler producing dstWidth x dstHeight frames.
func NewVideoScaler(dstWidth, dstHeight int, mode ScaleMode) *VideoScaler {
	return &VideoScaler{
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		out:       NewI420Frame(dstWidth, dstHeight),
	}
}

// Scale scales an I420 frame to the target dimensions. A frame that already
// has the target size is returned as is.
func (s *VideoScaler) Scale(frame *VideoFrame) *VideoFrame {
	if frame.Width == s.dstWidth && frame.Height == s.dstHeight {
		return frame
	}

	srcX, srcY, srcW, srcH := s.sourceRegion(frame.Width, frame.Height)
	for i := 0; i < 3; i++ {
		div := 1
		if i > 0 {
			div = 2
		}
		scalePlane(frame.Data[i], frame.Stride[i], srcX/div, srcY/div, srcW/div, srcH/div,
			s.out.Data[i], s.out.Stride[i], (s.dstWidth+div-1)/div, (s.dstHeight+div-1)/div)
	}
	s.out.PTS = frame.PTS
	return s.out
}

// sourceRegion returns the part of the source that maps onto the target.
func (s *VideoScaler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)
	switch {
	case srcAspect > dstAspect:
		// wider, crop the sides
		newW := int(float64(srcH)*dstAspect) &^ 1
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	case srcAspect < dstAspect:
		newH := int(float64(srcW)/dstAspect) &^ 1
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	default:
		return 0, 0, srcW, srcH
	}
}

// scalePlane scales one plane with bilinear interpolation in 16.16 fixed point.
func scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		syFP := y * yRatio
		y0 := srcY + syFP>>16
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}
		wy := syFP & 0xFFFF

		row0 := src[y0*srcStride:]
		row1 := src[y1*srcStride:]
		out := dst[y*dstStride:]

		for x := 0; x < dstW; x++ {
			sxFP := x * xRatio
			x0 := srcX + sxFP>>16
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}
			wx := sxFP & 0xFFFF

			top := (int(row0[x0])*(0x10000-wx) + int(row0[x1])*wx) >> 16
			bottom := (int(row1[x0])*(0x10000-wx) + int(row1[x1])*wx) >> 16
			out[x] = byte((top*(0x10000-wy) + bottom*wy) >> 16)
		}
	}
}

// ScaleFrame scales a frame without keeping a scaler around.
func ScaleFrame(frame *VideoFrame, dstWidth, dstHeight int, mode ScaleMode) *VideoFrame {
	return NewVideoScaler(dstWidth, dstHeight, mode).Scale(frame)
}

// CalculateScaledSize returns the output size for scaling srcW x srcH into a
// maxW x maxH box. Results are rounded to even values for 4:2:0 chroma.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)
	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	return (w + 1) &^ 1, (h + 1) &^ 1
}
