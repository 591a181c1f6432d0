package frame

import (
	"errors"
	"image"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

// Normalizer converts decoded camera images into Frames: grayscale conversion,
// bilinear resize to the model resolution, and scaling of 8-bit luminance into
// [0,1). It is the single preprocessing step shared by every consumer of frames.
//
// Safe for concurrent use; sequence numbers are assigned atomically.
type Normalizer struct {
	Width  int
	Height int

	seq atomic.Uint64
}

// NewNormalizer creates a normalizer producing width x height frames.
func NewNormalizer(width, height int) *Normalizer {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Normalizer{Width: width, Height: height}
}

// Normalize converts img into a Frame stamped with ts and the next sequence number.
func (n *Normalizer) Normalize(img image.Image, ts time.Time) (Frame, error) {
	if img == nil {
		return Frame{}, errors.New("normalize: nil image")
	}
	b := img.Bounds()
	if b.Empty() {
		return Frame{}, errors.New("normalize: empty image")
	}

	gray := image.NewGray(image.Rect(0, 0, n.Width, n.Height))
	if b.Dx() == n.Width && b.Dy() == n.Height {
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(gray, gray.Bounds(), img, b, draw.Src, nil)
	}

	pix := make([]float32, n.Width*n.Height)
	for y := 0; y < n.Height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+n.Width]
		for x, v := range row {
			pix[y*n.Width+x] = float32(v) / 256.0
		}
	}

	return New(n.seq.Add(1), ts, n.Width, n.Height, pix)
}

// Image renders the frame back into an 8-bit grayscale image.
func (f Frame) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		p := v * 256.0
		switch {
		case p < 0:
			p = 0
		case p > 255:
			p = 255
		}
		img.Pix[i] = uint8(p)
	}
	return img
}
