package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vicelab/framewatch/cmd/detector/config"
	"github.com/vicelab/framewatch/cmd/detector/metrics"
	"github.com/vicelab/framewatch/cmd/detector/models"
	"github.com/vicelab/framewatch/pkg/buffer"
	"github.com/vicelab/framewatch/pkg/frame"
	"github.com/vicelab/framewatch/pkg/graph"
	"github.com/vicelab/framewatch/pkg/scorer"
	"github.com/vicelab/framewatch/pkg/sink"
	"github.com/vicelab/framewatch/pkg/source"
	"github.com/vicelab/framewatch/pkg/storage"
	"github.com/vicelab/framewatch/pkg/weightsync"
)

// newSink builds the configured score sinks. The returned closers must be
// closed on shutdown.
func newSink(cfg *config.Config, logger *slog.Logger) (sink.Sink, []io.Closer, error) {
	var sinks sink.Multi
	var closers []io.Closer

	for _, name := range cfg.Sinks {
		switch name {
		case "none":
		case "log":
			sinks = append(sinks, sink.NewLogSink(logger, slog.LevelDebug))
		case "redis":
			rs, err := sink.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SinkChannel)
			if err != nil {
				closeAll(closers, logger)
				return nil, nil, fmt.Errorf("redis sink: %w", err)
			}
			logger.Info("publishing scores to redis", "addr", cfg.RedisAddr, "channel", rs.Channel())
			sinks = append(sinks, rs)
			closers = append(closers, rs)
		default:
			closeAll(closers, logger)
			return nil, nil, fmt.Errorf("unknown sink %q (must be log, redis, or none)", name)
		}
	}

	switch len(sinks) {
	case 0:
		return sink.Discard{}, closers, nil
	case 1:
		return sinks[0], closers, nil
	default:
		return sinks, closers, nil
	}
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}
}

// newDetector wires the pipeline described by cfg around the given store and sink.
func newDetector(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, store storage.Store, sk sink.Sink, onState func(State)) (*Detector, error) {
	src, err := source.New(cfg.Source, cfg.SourceOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	train, err := models.New(cfg, models.RoleTrain, logger)
	if err != nil {
		return nil, err
	}
	infer, err := models.New(cfg, models.RoleInference, logger)
	if err != nil {
		return nil, err
	}
	if infer.Horizon() != cfg.Horizon {
		return nil, errors.New("inference model horizon does not match configuration")
	}

	sc := scorer.New()
	sc.ActualOffset = cfg.Window - 1
	sc.PredictedOffset = cfg.Horizon - 1

	return New(Options{
		Name:          cfg.Name,
		ContextFrames: cfg.Context,
		Threshold:     cfg.Threshold,
		QueueSize:     cfg.QueueSize,
		TrainEvery:    cfg.TrainEvery,
		WeightsName:   cfg.WeightsName,
		Restore:       cfg.Restore,
		SaveOnExit:    cfg.SaveOnExit,
		SaveAbove:     cfg.SaveAbove,
	}, Deps{
		Source:        src,
		Normalizer:    frame.NewNormalizer(cfg.Width, cfg.Height),
		Buffer:        buffer.New(cfg.Window, cfg.Width, cfg.Height),
		TrainModel:    train,
		InferModel:    infer,
		Syncer:        weightsync.New(cfg.SyncEvery, logger),
		Scorer:        sc,
		Graph:         graph.New(),
		Sink:          sk,
		Store:         store,
		Logger:        logger,
		Metrics:       m,
		OnStateChange: onState,
	})
}
