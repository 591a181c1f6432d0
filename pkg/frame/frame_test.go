package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"
)

func TestNew_ShapeMismatch(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		pixels int
	}{
		{name: "too few pixels", width: 4, height: 4, pixels: 15},
		{name: "too many pixels", width: 4, height: 4, pixels: 17},
		{name: "zero width", width: 0, height: 4, pixels: 0},
		{name: "negative height", width: 4, height: -1, pixels: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, time.Now(), tt.width, tt.height, make([]float32, tt.pixels))
			if !errors.Is(err, ErrInvalidFrameShape) {
				t.Errorf("New() error = %v, want ErrInvalidFrameShape", err)
			}
		})
	}
}

func TestFrame_VerifyDetectsMutation(t *testing.T) {
	f, err := New(1, time.Now(), 2, 2, []float32{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !f.Verify() {
		t.Fatal("fresh frame should verify")
	}

	f.Pix[0] = 0.9
	if f.Verify() {
		t.Error("mutated frame should not verify")
	}
}

func TestFrame_CloneIsDeep(t *testing.T) {
	f, _ := New(1, time.Now(), 2, 1, []float32{0.5, 0.25})
	c := f.Clone()
	c.Pix[0] = 0

	if f.Pix[0] != 0.5 {
		t.Errorf("original pixel changed to %v after clone mutation", f.Pix[0])
	}
	if c.Checksum != f.Checksum {
		t.Error("clone should keep the original checksum")
	}
}

func TestZero(t *testing.T) {
	z := Zero(3, 2)
	if len(z.Pix) != 6 {
		t.Fatalf("len(Pix) = %d, want 6", len(z.Pix))
	}
	if z.Mean() != 0 {
		t.Errorf("Mean() = %v, want 0", z.Mean())
	}
	if !z.Verify() {
		t.Error("zero frame should verify")
	}
}

func TestCheckShape(t *testing.T) {
	f := Zero(4, 4)
	if err := f.CheckShape(4, 4); err != nil {
		t.Errorf("CheckShape(4,4) = %v, want nil", err)
	}
	if err := f.CheckShape(8, 8); !errors.Is(err, ErrInvalidFrameShape) {
		t.Errorf("CheckShape(8,8) = %v, want ErrInvalidFrameShape", err)
	}
}

func TestWindow_Context(t *testing.T) {
	w := make(Window, 5)
	for i := range w {
		w[i] = Frame{Seq: uint64(5 - i)}
	}

	ctx := w.Context(3)
	if len(ctx) != 3 {
		t.Fatalf("len(Context(3)) = %d, want 3", len(ctx))
	}
	if ctx[0].Seq != 5 {
		t.Errorf("Context(3)[0].Seq = %d, want newest 5", ctx[0].Seq)
	}
	if got := len(w.Context(10)); got != 5 {
		t.Errorf("len(Context(10)) = %d, want 5", got)
	}
	if w.Oldest().Seq != 1 {
		t.Errorf("Oldest().Seq = %d, want 1", w.Oldest().Seq)
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	n := NewNormalizer(16, 16)
	ts := time.Unix(1700000000, 0)

	f1, err := n.Normalize(src, ts)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if f1.Width != 16 || f1.Height != 16 {
		t.Fatalf("frame is %dx%d, want 16x16", f1.Width, f1.Height)
	}
	if !f1.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", f1.Timestamp, ts)
	}
	for i, v := range f1.Pix {
		if v < 0 || v >= 1 {
			t.Fatalf("Pix[%d] = %v, want in [0,1)", i, v)
		}
	}
	if want := float32(255) / 256; f1.Pix[0] != want {
		t.Errorf("white pixel = %v, want %v", f1.Pix[0], want)
	}

	f2, err := n.Normalize(src, ts)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if f2.Seq != f1.Seq+1 {
		t.Errorf("Seq = %d, want %d", f2.Seq, f1.Seq+1)
	}
}

func TestNormalizer_NilImage(t *testing.T) {
	n := NewNormalizer(0, 0)
	if n.Width != DefaultWidth || n.Height != DefaultHeight {
		t.Errorf("defaults = %dx%d, want %dx%d", n.Width, n.Height, DefaultWidth, DefaultHeight)
	}
	if _, err := n.Normalize(nil, time.Now()); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestFrame_ImageRoundTrip(t *testing.T) {
	f, _ := New(1, time.Now(), 2, 1, []float32{0, 128.0 / 256})
	img := f.Image()
	if img.Pix[0] != 0 || img.Pix[1] != 128 {
		t.Errorf("Image().Pix = %v, want [0 128]", img.Pix)
	}
}
