package source

import (
	"context"
	"image"
	"time"
)

// Synthetic renders a diagonal gradient that drifts one step per frame. Every
// DisturbEvery frames the image is inverted, which a trained predictor should
// flag as an anomaly.
type Synthetic struct {
	Width, Height int
	// FPS paces output. Zero emits as fast as the consumer reads.
	FPS float64
	// DisturbEvery injects an inverted frame every k frames. Zero disables it.
	DisturbEvery int
	// Frames stops the source after n frames. Zero runs until cancelled.
	Frames int
	// Clock returns capture times. Defaults to time.Now.
	Clock func() time.Time
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Start(ctx context.Context, out chan<- Capture) error {
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	var interval time.Duration
	if s.FPS > 0 {
		interval = time.Duration(float64(time.Second) / s.FPS)
	}

	for i := 0; s.Frames <= 0 || i < s.Frames; i++ {
		img := s.Render(i)
		if !emit(ctx, out, Capture{Image: img, At: clock(), Origin: "synthetic"}) {
			return nil
		}
		if !pace(ctx, interval) {
			return nil
		}
	}
	return nil
}

// Render draws frame i. It is deterministic.
func (s *Synthetic) Render(i int) *image.Gray {
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}
	period := w + h
	disturbed := s.DisturbEvery > 0 && i > 0 && i%s.DisturbEvery == 0

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x := range row {
			v := uint8(((x + y + i) % period) * 255 / period)
			if disturbed {
				v = 255 - v
			}
			row[x] = v
		}
	}
	return img
}
