package models

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vicelab/framewatch/pkg/frame"
)

// AutoregressiveModel predicts each pixel as a learned linear combination of the
// same pixel in the preceding context frames:
//
//	next(x,y) = bias + sum_k lag[k] * frame_k(x,y)     (k = 0 is the newest frame)
//
// Predictions are rolled forward: each predicted frame becomes the newest input
// of the following step, until Horizon frames have been produced. Outputs are
// clamped to [0,1].
//
// Training is online stochastic gradient descent on the per-pixel squared error
// of one-step-ahead predictions taken from the current window. Only every
// sampleStride-th pixel contributes to the gradient to keep a training step cheap.
//
// Parameters:
//   - lag:  shape [context]
//   - bias: shape [1]
//
// A fresh model starts as a persistence predictor (lag[0] = 1), which makes the
// newest frame the prediction for every future step.
//
// All methods are safe for concurrent use. Predict works on a copy of the
// parameters taken under a read lock, so a concurrent SetWeights or Train never
// exposes a partially-updated parameter set to inference.
type AutoregressiveModel struct {
	mu sync.RWMutex

	context      int
	horizon      int
	learningRate float64
	sampleStride int

	lag      []float64
	bias     float64
	lastLoss float64
	steps    int
}

// NewAutoregressiveModel creates a model reading contextLen frames and predicting
// horizon frames. A non-positive learningRate disables training.
func NewAutoregressiveModel(contextLen, horizon int, learningRate float64) *AutoregressiveModel {
	if contextLen <= 0 {
		contextLen = DefaultContext
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	lag := make([]float64, contextLen)
	lag[0] = 1

	return &AutoregressiveModel{
		context:      contextLen,
		horizon:      horizon,
		learningRate: learningRate,
		sampleStride: 7,
		lag:          lag,
	}
}

// Name returns the model identifier.
func (m *AutoregressiveModel) Name() string {
	return "autoregressive"
}

// Horizon returns the number of predicted frames.
func (m *AutoregressiveModel) Horizon() int {
	return m.horizon
}

// Context returns the number of input frames.
func (m *AutoregressiveModel) Context() int {
	return m.context
}

// Predict rolls the linear predictor forward Horizon steps from input.
func (m *AutoregressiveModel) Predict(ctx context.Context, input frame.Window) ([]frame.Frame, error) {
	if len(input) != m.context {
		return nil, fmt.Errorf("autoregressive: expected %d context frames, got %d", m.context, len(input))
	}
	width, height := input[0].Width, input[0].Height
	for i, f := range input {
		if err := f.CheckShape(width, height); err != nil {
			return nil, fmt.Errorf("autoregressive: context frame %d: %w", i, err)
		}
	}

	m.mu.RLock()
	lag := append([]float64(nil), m.lag...)
	bias := m.bias
	m.mu.RUnlock()

	history := make([][]float32, m.context)
	for i, f := range input {
		history[i] = f.Pix
	}

	out := make([]frame.Frame, 0, m.horizon)
	n := width * height
	for step := 0; step < m.horizon; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next := make([]float32, n)
		for i := 0; i < n; i++ {
			v := bias
			for k, w := range lag {
				if w != 0 {
					v += w * float64(history[k][i])
				}
			}
			next[i] = float32(clamp01(v))
		}

		f, err := frame.New(input[0].Seq+uint64(step)+1, input[0].Timestamp, width, height, next)
		if err != nil {
			return nil, fmt.Errorf("autoregressive: %w", err)
		}
		out = append(out, f)

		copy(history[1:], history[:len(history)-1])
		history[0] = next
	}

	return out, nil
}

// Train performs one SGD step on every one-step-ahead sample available in window.
// window must be newest-first and hold at least Context()+1 frames.
func (m *AutoregressiveModel) Train(ctx context.Context, window frame.Window) error {
	if m.learningRate <= 0 {
		return nil
	}
	if len(window) < m.context+1 {
		return fmt.Errorf("autoregressive: training needs %d frames, got %d", m.context+1, len(window))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	lag := append([]float64(nil), m.lag...)
	bias := m.bias
	m.mu.RUnlock()

	gradLag := make([]float64, m.context)
	var gradBias, sqErr float64
	var count int

	n := len(window[0].Pix)
	for t := 0; t+m.context < len(window); t++ {
		target := window[t]
		inputs := window[t+1 : t+1+m.context]
		for _, f := range inputs {
			if len(f.Pix) != n {
				return fmt.Errorf("autoregressive: %w", frame.ErrInvalidFrameShape)
			}
		}
		if len(target.Pix) != n {
			return fmt.Errorf("autoregressive: %w", frame.ErrInvalidFrameShape)
		}

		for i := 0; i < n; i += m.sampleStride {
			pred := bias
			for k := range lag {
				pred += lag[k] * float64(inputs[k].Pix[i])
			}
			e := pred - float64(target.Pix[i])
			for k := range lag {
				gradLag[k] += e * float64(inputs[k].Pix[i])
			}
			gradBias += e
			sqErr += e * e
			count++
		}
	}
	if count == 0 {
		return errors.New("autoregressive: no training samples")
	}

	scale := 2 * m.learningRate / float64(count)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.lag {
		m.lag[k] -= scale * gradLag[k]
	}
	m.bias -= scale * gradBias
	m.lastLoss = sqErr / float64(count)
	m.steps++
	return nil
}

// LastLoss returns the mean squared error seen by the most recent training step
// and the number of steps taken so far.
func (m *AutoregressiveModel) LastLoss() (float64, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLoss, m.steps
}

// Weights returns a copy of the parameters.
func (m *AutoregressiveModel) Weights(_ context.Context) (Weights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weightsLocked(), nil
}

// SetWeights replaces all parameters after validating their shapes.
func (m *AutoregressiveModel) SetWeights(_ context.Context, w Weights) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := CheckShapes(m.weightsLocked(), w); err != nil {
		return fmt.Errorf("autoregressive: %w", err)
	}
	copy(m.lag, w["lag"].Values)
	m.bias = w["bias"].Values[0]
	return nil
}

func (m *AutoregressiveModel) weightsLocked() Weights {
	return Weights{
		"lag": {
			Shape:  []int{m.context},
			Values: append([]float64(nil), m.lag...),
		},
		"bias": {
			Shape:  []int{1},
			Values: []float64{m.bias},
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
