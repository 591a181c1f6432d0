package scorer

import (
	"errors"
	"fmt"

	"github.com/vicelab/framewatch/pkg/frame"
)

// DefaultWindowSize is the side of the square SSIM comparison window.
const DefaultWindowSize = 7

const (
	k1 = 0.01
	k2 = 0.03
)

// SSIM computes the mean structural similarity of two single-channel frames
// using a 7x7 uniform window. See SSIMWindow.
func SSIM(a, b frame.Frame, dataRange float64) (float64, error) {
	return SSIMWindow(a, b, dataRange, DefaultWindowSize)
}

// SSIMWindow computes the mean structural similarity index of a and b over every
// win x win window lying fully inside the frames. Local statistics use sample
// (N-1) normalization. The result lies in [-1,1]; identical frames, including
// two all-zero frames, score exactly 1.
//
// Window sums come from summed-area tables, so the cost is linear in the number
// of pixels regardless of window size.
func SSIMWindow(a, b frame.Frame, dataRange float64, win int) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("ssim: %w: %dx%d vs %dx%d", frame.ErrInvalidFrameShape, a.Width, a.Height, b.Width, b.Height)
	}
	if len(a.Pix) != a.Width*a.Height || len(b.Pix) != b.Width*b.Height {
		return 0, fmt.Errorf("ssim: %w: pixel count does not match dimensions", frame.ErrInvalidFrameShape)
	}
	if win < 2 {
		return 0, fmt.Errorf("ssim: window size %d must be at least 2", win)
	}
	if a.Width < win || a.Height < win {
		return 0, fmt.Errorf("ssim: %dx%d frame is smaller than the %dx%d window", a.Width, a.Height, win, win)
	}
	if dataRange <= 0 {
		return 0, errors.New("ssim: data range must be positive")
	}

	w, h := a.Width, a.Height
	tables := newSumTables(a.Pix, b.Pix, w, h)

	np := float64(win * win)
	covNorm := np / (np - 1)
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	var total float64
	var count int
	for y := 0; y+win <= h; y++ {
		for x := 0; x+win <= w; x++ {
			sa, sb, saa, sbb, sab := tables.window(x, y, win)

			ux := sa / np
			uy := sb / np
			vx := covNorm * (saa/np - ux*ux)
			vy := covNorm * (sbb/np - uy*uy)
			vxy := covNorm * (sab/np - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
			count++
		}
	}

	return total / float64(count), nil
}

// sumTables holds summed-area tables of a, b, a², b² and a·b with a one-pixel
// zero border, stride w+1.
type sumTables struct {
	stride           int
	a, b, aa, bb, ab []float64
}

func newSumTables(pa, pb []float32, w, h int) *sumTables {
	stride := w + 1
	size := stride * (h + 1)
	t := &sumTables{
		stride: stride,
		a:      make([]float64, size),
		b:      make([]float64, size),
		aa:     make([]float64, size),
		bb:     make([]float64, size),
		ab:     make([]float64, size),
	}

	for y := 0; y < h; y++ {
		var ra, rb, raa, rbb, rab float64
		for x := 0; x < w; x++ {
			va := float64(pa[y*w+x])
			vb := float64(pb[y*w+x])
			ra += va
			rb += vb
			raa += va * va
			rbb += vb * vb
			rab += va * vb

			i := (y+1)*stride + x + 1
			up := y*stride + x + 1
			t.a[i] = t.a[up] + ra
			t.b[i] = t.b[up] + rb
			t.aa[i] = t.aa[up] + raa
			t.bb[i] = t.bb[up] + rbb
			t.ab[i] = t.ab[up] + rab
		}
	}
	return t
}

func (t *sumTables) window(x, y, win int) (sa, sb, saa, sbb, sab float64) {
	tl := y*t.stride + x
	tr := y*t.stride + x + win
	bl := (y+win)*t.stride + x
	br := (y+win)*t.stride + x + win

	rect := func(s []float64) float64 {
		return s[br] - s[tr] - s[bl] + s[tl]
	}
	return rect(t.a), rect(t.b), rect(t.aa), rect(t.bb), rect(t.ab)
}
