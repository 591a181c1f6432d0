// Package weightsync copies parameters from a training model into a separate
// inference model on a fixed frame cadence.
//
// Training and inference never share a model instance. Inference runs on a
// snapshot that is replaced wholesale every Every frames, so its parameters lag
// the training model by at most Every frames and are never observed half-written.
package weightsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vicelab/framewatch/pkg/models"
)

// DefaultEvery is the default cadence in frames (about three seconds at 30 fps).
const DefaultEvery = 90

// Syncer performs the periodic one-directional weight copy.
type Syncer struct {
	every  int
	logger *slog.Logger

	// mu makes get-validate-set a single critical section with respect to any
	// other sync targeting the same model.
	mu       sync.Mutex
	lastSync int
	lastAt   time.Time
	synced   bool
	syncs    uint64
	failures uint64
}

// New creates a syncer firing every `every` frames.
func New(every int, logger *slog.Logger) *Syncer {
	if every <= 0 {
		every = DefaultEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		every:  every,
		logger: logger,
	}
}

// Every returns the sync cadence in frames.
func (s *Syncer) Every() int {
	return s.every
}

// Due reports whether a sync is scheduled at frameCount.
func (s *Syncer) Due(frameCount int) bool {
	return frameCount%s.every == 0
}

// MaybeSync copies the complete parameter set of source into target when
// frameCount is a multiple of Every. It reports whether a copy happened.
//
// A shape mismatch between the two models returns an error wrapping
// models.ErrModelShapeMismatch; target keeps its previous parameters and the
// caller is expected to log and carry on with stale weights.
func (s *Syncer) MaybeSync(ctx context.Context, frameCount int, source, target models.Model) (bool, error) {
	if !s.Due(frameCount) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := source.Weights(ctx)
	if err != nil {
		s.failures++
		return false, fmt.Errorf("sync at frame %d: read source weights: %w", frameCount, err)
	}
	if err := target.SetWeights(ctx, w); err != nil {
		s.failures++
		return false, fmt.Errorf("sync at frame %d: %w", frameCount, err)
	}

	s.lastSync = frameCount
	s.lastAt = time.Now()
	s.synced = true
	s.syncs++

	s.logger.Debug("synced inference weights",
		"frame_count", frameCount,
		"source", source.Name(),
		"target", target.Name(),
		"tensors", len(w),
	)
	return true, nil
}

// LastSync returns the frame count and wall time of the last successful sync.
// ok is false if no sync has succeeded yet.
func (s *Syncer) LastSync() (frameCount int, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.lastAt, s.synced
}

// Staleness returns how many frames the inference parameters lag behind
// frameCount, or -1 if no sync has succeeded yet.
func (s *Syncer) Staleness(frameCount int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.synced {
		return -1
	}
	return frameCount - s.lastSync
}

// Stats returns the number of successful and failed syncs.
func (s *Syncer) Stats() (syncs, failures uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs, s.failures
}
