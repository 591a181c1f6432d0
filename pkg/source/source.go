// Package source provides camera frame connectors. Each source produces raw
// images and leaves grayscale conversion, resizing, and normalization to
// frame.Normalizer so that every image reaching the detector goes through the
// same preprocessing.
//
// Available sources:
//   - Synthetic: deterministic moving pattern with optional disturbances
//   - Dir: replays an image directory, then watches it for new files
//   - HTTP: polls a camera snapshot URL
package source

import (
	"context"
	"errors"
	"image"
	"time"

	// Decoders for the formats cameras commonly dump.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrTransport reports that a source can no longer deliver frames. The
// detector treats it as fatal.
var ErrTransport = errors.New("frame transport failed")

// Capture is one raw image and the time it was taken.
type Capture struct {
	Image image.Image
	At    time.Time
	// Origin identifies where the image came from, e.g. a file name.
	Origin string
}

// Source delivers captures until it runs out, ctx is cancelled, or it fails.
//
// Start blocks. It returns nil when ctx is cancelled or a finite source is
// exhausted, and an error wrapping ErrTransport when the underlying device or
// endpoint is lost.
type Source interface {
	Start(ctx context.Context, out chan<- Capture) error
	Name() string
}

// emit sends c on out and reports false if ctx was cancelled first.
func emit(ctx context.Context, out chan<- Capture, c Capture) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// pace waits d, or returns false if ctx is cancelled first. A non-positive d
// returns immediately.
func pace(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
