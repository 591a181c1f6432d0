// Package frame defines the normalized single-channel camera frame consumed by the
// anomaly-detection pipeline, the sliding window built from those frames, and the
// preprocessing that turns decoded camera images into frames.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultWidth is the frame width expected by the predictive model.
	DefaultWidth = 256
	// DefaultHeight is the frame height expected by the predictive model.
	DefaultHeight = 256
)

// ErrInvalidFrameShape is returned when a frame does not have the dimensions
// required by its consumer.
var ErrInvalidFrameShape = errors.New("invalid frame shape")

// Frame is a single-channel normalized image with pixel values in [0,1].
//
// A Frame is immutable once created: Pix must never be written after New returns.
// Copying a Frame value shares the pixel data, which is safe for that reason.
// Use Clone when an owner needs its own backing array.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the preprocessor.
	Seq uint64
	// Timestamp is the capture time of the source image.
	Timestamp time.Time
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Pix holds Width*Height luminance values, row-major.
	Pix []float32
	// Checksum is the xxhash64 of Pix, computed once at construction.
	Checksum uint64
}

// New builds a frame from row-major pixel data. It fails with ErrInvalidFrameShape
// if the dimensions are not positive or do not match len(pix).
func New(seq uint64, ts time.Time, width, height int, pix []float32) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidFrameShape, width, height)
	}
	if len(pix) != width*height {
		return Frame{}, fmt.Errorf("%w: %dx%d needs %d pixels, got %d", ErrInvalidFrameShape, width, height, width*height, len(pix))
	}

	return Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     width,
		Height:    height,
		Pix:       pix,
		Checksum:  checksum(pix),
	}, nil
}

// Zero returns an all-zero frame used to pad the window at startup.
func Zero(width, height int) Frame {
	pix := make([]float32, width*height)
	return Frame{
		Width:    width,
		Height:   height,
		Pix:      pix,
		Checksum: checksum(pix),
	}
}

// At returns the pixel value at column x, row y.
func (f Frame) At(x, y int) float32 {
	return f.Pix[y*f.Width+x]
}

// SameShape reports whether f and other have identical dimensions.
func (f Frame) SameShape(other Frame) bool {
	return f.Width == other.Width && f.Height == other.Height
}

// CheckShape returns an error wrapping ErrInvalidFrameShape unless the frame is
// width x height with a matching pixel count.
func (f Frame) CheckShape(width, height int) error {
	if f.Width != width || f.Height != height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrInvalidFrameShape, f.Width, f.Height, width, height)
	}
	if len(f.Pix) != width*height {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidFrameShape, len(f.Pix), width, height)
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	pix := make([]float32, len(f.Pix))
	copy(pix, f.Pix)
	f.Pix = pix
	return f
}

// Verify reports whether the pixel data still matches the checksum written at
// construction time.
func (f Frame) Verify() bool {
	return checksum(f.Pix) == f.Checksum
}

// Mean returns the average pixel value.
func (f Frame) Mean() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range f.Pix {
		sum += float64(v)
	}
	return sum / float64(len(f.Pix))
}

func checksum(pix []float32) uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, v := range pix {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
