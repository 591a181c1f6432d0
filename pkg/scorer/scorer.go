// Package scorer measures how well a predicted frame matches the frame that
// actually arrived.
package scorer

import (
	"fmt"

	"github.com/vicelab/framewatch/pkg/buffer"
	"github.com/vicelab/framewatch/pkg/frame"
	"github.com/vicelab/framewatch/pkg/models"
)

// DefaultThreshold is the anomaly threshold: scores strictly below it are
// anomalies.
const DefaultThreshold = 0.9

// SimilarityFunc compares two frames over the given pixel value range and
// returns a score in [-1,1], 1 meaning identical.
type SimilarityFunc func(a, b frame.Frame, dataRange float64) (float64, error)

// Scorer compares one designated frame of the window against one designated
// frame of the prediction. It holds no state and is safe for concurrent use.
type Scorer struct {
	Similarity      SimilarityFunc
	DataRange       float64
	ActualOffset    int
	PredictedOffset int
}

// New returns the default scorer: SSIM over [0,1], comparing the oldest frame of
// a 15-frame window with the furthest of 5 predicted frames.
func New() *Scorer {
	return &Scorer{
		Similarity:      SSIM,
		DataRange:       1.0,
		ActualOffset:    buffer.DefaultCapacity - 1,
		PredictedOffset: models.DefaultHorizon - 1,
	}
}

// Score returns the similarity between window[ActualOffset] and
// prediction[PredictedOffset].
func (s *Scorer) Score(window frame.Window, prediction []frame.Frame) (float64, error) {
	if s.ActualOffset < 0 || s.ActualOffset >= len(window) {
		return 0, fmt.Errorf("score: actual offset %d outside window of %d", s.ActualOffset, len(window))
	}
	if s.PredictedOffset < 0 || s.PredictedOffset >= len(prediction) {
		return 0, fmt.Errorf("score: predicted offset %d outside prediction of %d", s.PredictedOffset, len(prediction))
	}

	sim := s.Similarity
	if sim == nil {
		sim = SSIM
	}
	dataRange := s.DataRange
	if dataRange <= 0 {
		dataRange = 1.0
	}

	v, err := sim(window[s.ActualOffset], prediction[s.PredictedOffset], dataRange)
	if err != nil {
		return 0, fmt.Errorf("score: %w", err)
	}
	return v, nil
}
