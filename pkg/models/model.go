// Package models defines the predictive frame model capability used by the
// detector and the implementations shipped with framewatch.
//
// A Model maps the context frames of a window (newest first) to a sequence of
// predicted future frames. Models expose their full parameter set through
// Weights/SetWeights so that a training instance can be snapshot-copied into a
// separate inference instance.
package models

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/vicelab/framewatch/pkg/frame"
)

const (
	// DefaultContext is the number of window frames fed to the model.
	DefaultContext = 10
	// DefaultHorizon is the number of frames the model predicts.
	DefaultHorizon = 5
)

// ErrModelShapeMismatch is returned when a parameter set does not have the
// tensor names or shapes a model expects.
var ErrModelShapeMismatch = errors.New("model shape mismatch")

// Model is a frame predictor with an exportable parameter set.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// Horizon returns the number of frames returned by Predict.
	Horizon() int

	// Predict returns the frames following input, which is ordered newest first.
	// The returned slice holds Horizon() frames in chronological order; index
	// Horizon()-1 is the furthest prediction.
	Predict(ctx context.Context, input frame.Window) ([]frame.Frame, error)

	// Weights returns a deep copy of the complete parameter set.
	Weights(ctx context.Context) (Weights, error)

	// SetWeights replaces the complete parameter set. It fails with an error
	// wrapping ErrModelShapeMismatch if w does not match the model's shapes,
	// in which case the current parameters are kept.
	SetWeights(ctx context.Context, w Weights) error
}

// Trainer is implemented by models that learn online from the frame window.
type Trainer interface {
	Train(ctx context.Context, window frame.Window) error
}

// Tensor is a named parameter block.
type Tensor struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Size returns the number of elements implied by Shape.
func (t Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Weights is a complete model parameter set keyed by tensor name.
type Weights map[string]Tensor

// Clone returns a deep copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for name, t := range w {
		out[name] = Tensor{
			Shape:  slices.Clone(t.Shape),
			Values: slices.Clone(t.Values),
		}
	}
	return out
}

// Names returns the tensor names in sorted order.
func (w Weights) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckShapes verifies that got has exactly the tensors of want with identical
// shapes and consistent value counts.
func CheckShapes(want, got Weights) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrModelShapeMismatch, len(got), len(want))
	}
	for _, name := range want.Names() {
		g, ok := got[name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %q", ErrModelShapeMismatch, name)
		}
		if !slices.Equal(want[name].Shape, g.Shape) {
			return fmt.Errorf("%w: tensor %q shape %v, want %v", ErrModelShapeMismatch, name, g.Shape, want[name].Shape)
		}
		if len(g.Values) != g.Size() {
			return fmt.Errorf("%w: tensor %q has %d values for shape %v", ErrModelShapeMismatch, name, len(g.Values), g.Shape)
		}
	}
	return nil
}
