// Package sink publishes per-frame similarity scores to observers. Delivery is
// fire-and-forget: a publish is attempted once and never acknowledged.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sample is one scored frame.
type Sample struct {
	Seq        uint64    `json:"seq"`
	FrameCount int       `json:"frameCount"`
	Score      float64   `json:"score"`
	Anomaly    bool      `json:"anomaly"`
	At         time.Time `json:"at"`
}

// Sink receives score samples.
type Sink interface {
	Publish(ctx context.Context, s Sample) error
}

// LogSink writes every sample to a structured logger.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink returns a sink logging at level. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

func (l *LogSink) Publish(ctx context.Context, s Sample) error {
	l.logger.Log(ctx, l.level, "ssim",
		"seq", s.Seq,
		"frame_count", s.FrameCount,
		"score", s.Score,
		"anomaly", s.Anomaly,
	)
	return nil
}

// Multi fans a sample out to every sink. All sinks are tried; the errors are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, s Sample) error {
	var errs []error
	for _, sk := range m {
		if err := sk.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every sample.
type Discard struct{}

func (Discard) Publish(context.Context, Sample) error { return nil }
