// Package buffer provides the fixed-capacity sliding window of recent frames.
package buffer

import (
	"fmt"
	"sync"

	"github.com/vicelab/framewatch/pkg/frame"
)

// DefaultCapacity is the window length W.
const DefaultCapacity = 15

// Buffer is a ring of the most recent frames. It always holds exactly Capacity()
// frames: it starts filled with zero frames and every Push evicts the oldest one.
//
// A single writer and any number of readers may use it concurrently. Push and
// Current are serialized by one RWMutex, so a reader observes either the window
// before a push or the window after it, never a mix.
type Buffer struct {
	mu     sync.RWMutex
	ring   []frame.Frame
	head   int // index of the newest frame
	width  int
	height int
	pushed uint64
}

// New creates a buffer of capacity frames of width x height.
func New(capacity, width, height int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if width <= 0 {
		width = frame.DefaultWidth
	}
	if height <= 0 {
		height = frame.DefaultHeight
	}

	zero := frame.Zero(width, height)
	ring := make([]frame.Frame, capacity)
	for i := range ring {
		ring[i] = zero
	}

	return &Buffer{
		ring:   ring,
		width:  width,
		height: height,
	}
}

// NewDefault creates a 15-frame buffer of 256x256 frames.
func NewDefault() *Buffer {
	return New(DefaultCapacity, frame.DefaultWidth, frame.DefaultHeight)
}

// Push inserts f as the newest frame and evicts the oldest. Frames of the wrong
// shape are rejected with an error wrapping frame.ErrInvalidFrameShape and leave
// the buffer unchanged.
func (b *Buffer) Push(f frame.Frame) error {
	if err := f.CheckShape(b.width, b.height); err != nil {
		return fmt.Errorf("push seq %d: %w", f.Seq, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Moving head backwards makes the slot holding the oldest frame the newest.
	b.head = (b.head - 1 + len(b.ring)) % len(b.ring)
	b.ring[b.head] = f
	b.pushed++
	return nil
}

// Current returns the window newest-first. The returned slice is owned by the
// caller; the frames share immutable pixel data with the buffer.
func (b *Buffer) Current() frame.Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w := make(frame.Window, len(b.ring))
	for i := range w {
		w[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	return w
}

// Newest returns the most recently pushed frame (a zero frame before any push).
func (b *Buffer) Newest() frame.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring[b.head]
}

// Pushed returns the number of frames accepted since creation.
func (b *Buffer) Pushed() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pushed
}

// Len returns the number of frames in the window, which equals Capacity.
func (b *Buffer) Len() int {
	return len(b.ring)
}

// Capacity returns the window length.
func (b *Buffer) Capacity() int {
	return len(b.ring)
}

// Shape returns the frame dimensions accepted by Push.
func (b *Buffer) Shape() (width, height int) {
	return b.width, b.height
}
