package weightsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/vicelab/framewatch/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Defaults(t *testing.T) {
	s := New(0, nil)
	if s.Every() != DefaultEvery {
		t.Errorf("Every() = %d, want %d", s.Every(), DefaultEvery)
	}
	if s.logger == nil {
		t.Error("logger should not be nil when nil is passed")
	}
}

func TestMaybeSync_Cadence(t *testing.T) {
	ctx := context.Background()
	s := New(90, testLogger())
	src := models.NewAutoregressiveModel(10, 5, 0)
	dst := models.NewAutoregressiveModel(10, 5, 0)

	var fired []int
	for count := 1; count <= 200; count++ {
		ok, err := s.MaybeSync(ctx, count, src, dst)
		if err != nil {
			t.Fatalf("MaybeSync(%d) error = %v", count, err)
		}
		if ok {
			fired = append(fired, count)
		}
	}

	if len(fired) != 2 || fired[0] != 90 || fired[1] != 180 {
		t.Errorf("syncs fired at %v, want [90 180]", fired)
	}

	ok, err := s.MaybeSync(ctx, 0, src, dst)
	if err != nil || !ok {
		t.Errorf("MaybeSync(0) = %v, %v; want true, nil", ok, err)
	}
}

func TestMaybeSync_CopiesAllParameters(t *testing.T) {
	ctx := context.Background()
	s := New(1, testLogger())
	src := models.NewAutoregressiveModel(3, 5, 0)
	dst := models.NewAutoregressiveModel(3, 5, 0)

	want := models.Weights{
		"lag":  {Shape: []int{3}, Values: []float64{0.2, 0.3, 0.5}},
		"bias": {Shape: []int{1}, Values: []float64{0.05}},
	}
	if err := src.SetWeights(ctx, want); err != nil {
		t.Fatalf("SetWeights() error = %v", err)
	}

	ok, err := s.MaybeSync(ctx, 7, src, dst)
	if err != nil || !ok {
		t.Fatalf("MaybeSync() = %v, %v; want true, nil", ok, err)
	}

	got, _ := dst.Weights(ctx)
	for _, name := range want.Names() {
		for i, v := range want[name].Values {
			if got[name].Values[i] != v {
				t.Errorf("%s[%d] = %v, want %v", name, i, got[name].Values[i], v)
			}
		}
	}

	// Later source updates must not leak into the target until the next sync.
	_ = src.SetWeights(ctx, models.Weights{
		"lag":  {Shape: []int{3}, Values: []float64{1, 0, 0}},
		"bias": {Shape: []int{1}, Values: []float64{0}},
	})
	got, _ = dst.Weights(ctx)
	if got["lag"].Values[0] != 0.2 {
		t.Errorf("target changed without sync: lag[0] = %v", got["lag"].Values[0])
	}
}

func TestMaybeSync_ShapeMismatch(t *testing.T) {
	ctx := context.Background()
	s := New(90, testLogger())
	src := models.NewAutoregressiveModel(4, 5, 0)
	dst := models.NewAutoregressiveModel(10, 5, 0)

	ok, err := s.MaybeSync(ctx, 90, src, dst)
	if ok {
		t.Error("MaybeSync() reported a sync despite a shape mismatch")
	}
	if !errors.Is(err, models.ErrModelShapeMismatch) {
		t.Fatalf("MaybeSync() error = %v, want ErrModelShapeMismatch", err)
	}

	w, _ := dst.Weights(ctx)
	if len(w["lag"].Values) != 10 {
		t.Errorf("target lag length = %d, want untouched 10", len(w["lag"].Values))
	}

	syncs, failures := s.Stats()
	if syncs != 0 || failures != 1 {
		t.Errorf("Stats() = %d, %d; want 0, 1", syncs, failures)
	}
	if _, _, synced := s.LastSync(); synced {
		t.Error("LastSync() should report no successful sync")
	}
}

func TestStaleness(t *testing.T) {
	ctx := context.Background()
	s := New(90, testLogger())
	src := models.NewAutoregressiveModel(10, 5, 0)
	dst := models.NewAutoregressiveModel(10, 5, 0)

	if got := s.Staleness(10); got != -1 {
		t.Errorf("Staleness() before any sync = %d, want -1", got)
	}

	for count := 0; count <= 300; count++ {
		if _, err := s.MaybeSync(ctx, count, src, dst); err != nil {
			t.Fatalf("MaybeSync(%d) error = %v", count, err)
		}
		if lag := s.Staleness(count); lag < 0 || lag >= s.Every() {
			t.Fatalf("Staleness(%d) = %d, want in [0, %d)", count, lag, s.Every())
		}
	}

	frame, _, ok := s.LastSync()
	if !ok || frame != 270 {
		t.Errorf("LastSync() = %d, %v; want 270, true", frame, ok)
	}
}
