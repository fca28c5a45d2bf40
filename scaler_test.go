package transcoder

import (
	"testing"
)

func TestVideoScaler_NoScaling(t *testing.T) {
	frame := createGradientFrame(640, 480)
	frame.PTS = 12345

	scaler := NewVideoScaler(640, 480, ScaleModeStretch)
	out := scaler.Scale(frame)

	// Should return same frame when no scaling needed
	if out != frame {
		t.Error("Expected same frame when no scaling needed")
	}
}

func TestVideoScaler_Downscale(t *testing.T) {
	srcW, srcH := 1280, 720
	dstW, dstH := 640, 360

	frame := createGradientFrame(srcW, srcH)
	frame.PTS = 40_000

	scaler := NewVideoScaler(dstW, dstH, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
	if len(out.Data[0]) != dstW*dstH {
		t.Errorf("Y plane size mismatch: expected %d, got %d", dstW*dstH, len(out.Data[0]))
	}
	if len(out.Data[1]) != (dstW/2)*(dstH/2) {
		t.Errorf("U plane size mismatch")
	}
	if out.PTS != frame.PTS {
		t.Errorf("PTS not carried: got %d", out.PTS)
	}

	// Horizontal gradient survives: left edge dark, right edge bright.
	if out.Data[0][0] > 10 || out.Data[0][dstW-1] < 240 {
		t.Errorf("gradient lost: left=%d right=%d", out.Data[0][0], out.Data[0][dstW-1])
	}
	if out.Data[1][0] != 128 {
		t.Errorf("chroma changed: %d", out.Data[1][0])
	}
}

func TestVideoScaler_Upscale(t *testing.T) {
	srcW, srcH := 320, 240
	dstW, dstH := 640, 480

	frame := createGradientFrame(srcW, srcH)

	scaler := NewVideoScaler(dstW, dstH, ScaleModeStretch)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
}

func TestVideoScaler_ReusesOutput(t *testing.T) {
	scaler := NewVideoScaler(160, 90, ScaleModeStretch)
	a := scaler.Scale(createGradientFrame(320, 180))
	b := scaler.Scale(createGradientFrame(640, 360))
	if a != b {
		t.Error("Expected the output frame to be reused")
	}
}

func TestVideoScaler_Fill(t *testing.T) {
	// 16:9 source to 4:3 destination (should crop sides)
	srcW, srcH := 1920, 1080
	dstW, dstH := 640, 480

	frame := createGradientFrame(srcW, srcH)

	scaler := NewVideoScaler(dstW, dstH, ScaleModeFill)
	out := scaler.Scale(frame)

	if out.Width != dstW || out.Height != dstH {
		t.Errorf("Expected %dx%d, got %dx%d", dstW, dstH, out.Width, out.Height)
	}
	// Cropped sides mean the left edge is no longer the darkest column.
	if out.Data[0][0] < 20 {
		t.Errorf("Expected cropped left edge, got luma %d", out.Data[0][0])
	}
}

func TestVideoScaler_SourceRegion(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		dstW, dstH int
		x, y, w, h int
	}{
		{"wider source", 1920, 1080, 640, 640, 420, 0, 1080, 1080},
		{"taller source", 640, 480, 1280, 640, 0, 80, 640, 320},
		{"same aspect", 1280, 720, 640, 360, 0, 0, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &VideoScaler{dstWidth: tt.dstW, dstHeight: tt.dstH, mode: ScaleModeFill}
			x, y, w, h := s.sourceRegion(tt.srcW, tt.srcH)
			if x != tt.x || y != tt.y || w != tt.w || h != tt.h {
				t.Errorf("sourceRegion = (%d,%d,%d,%d), want (%d,%d,%d,%d)", x, y, w, h, tt.x, tt.y, tt.w, tt.h)
			}
		})
	}
}

func TestCalculateScaledSize(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		mode             ScaleMode
		expectW, expectH int
	}{
		{"16:9 to 4:3 fit", 1920, 1080, 640, 480, ScaleModeFit, 640, 360},
		{"4:3 to 16:9 fit", 640, 480, 1280, 720, ScaleModeFit, 960, 720},
		{"same aspect", 1280, 720, 640, 360, ScaleModeFit, 640, 360},
		{"odd result rounded even", 1000, 750, 333, 333, ScaleModeFit, 334, 250},
		{"fill mode", 1920, 1080, 640, 480, ScaleModeFill, 640, 480},
		{"stretch mode", 1920, 1080, 640, 480, ScaleModeStretch, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CalculateScaledSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH, tt.mode)
			if w != tt.expectW || h != tt.expectH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.expectW, tt.expectH, w, h)
			}
		})
	}
}

func createGradientFrame(width, height int) *VideoFrame {
	frame := NewI420Frame(width, height)

	// Fill Y with horizontal gradient
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame.Data[0][y*width+x] = byte(x * 255 / width)
		}
	}

	// Fill U/V with neutral values
	for i := range frame.Data[1] {
		frame.Data[1][i] = 128
		frame.Data[2][i] = 128
	}
	return frame
}

func BenchmarkVideoScaler_720pTo480p(b *testing.B) {
	frame := createGradientFrame(1280, 720)
	scaler := NewVideoScaler(640, 480, ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(frame)
	}
}

func BenchmarkVideoScaler_1080pTo720p(b *testing.B) {
	frame := createGradientFrame(1920, 1080)
	scaler := NewVideoScaler(1280, 720, ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(frame)
	}
}
