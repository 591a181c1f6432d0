// Command detector runs the frame-prediction anomaly detector.
//
// The detector runs a continuous loop that:
//  1. Ingests camera frames from a source (synthetic, image directory, or HTTP snapshot URL)
//  2. Normalizes them into a sliding window of grayscale frames
//  3. Predicts future frames with an online-trained model
//  4. Scores the oldest window frame against the furthest prediction with SSIM
//  5. Records frames scoring below the threshold in an anomaly knowledge graph
//
// The detector serves an HTTP API on port 8080 (configurable) providing:
//   - GET  /status, /graph, /graph/nodes/{index}, /graph/nodes/{index}/image
//   - POST /weights/save
//   - GET  /healthz, /readyz, /metrics
//
// and a gRPC health service on port 9090 that reports SERVING while running.
//
// Usage:
//
//	detector \
//	  -source=http -source-opt url=http://camera.local/snapshot.jpg \
//	  -threshold=0.9 \
//	  -storage=redis -redis-addr=redis:6379 \
//	  -sinks=log,redis
//
// Environment variables:
//
//	DETECTOR_NAME - Detector name (default: detector)
//	SOURCE        - Frame source: synthetic, dir, http (default: synthetic)
//	SOURCE_*      - Source options, e.g. SOURCE_URL, SOURCE_MAX_FAILURES
//	THRESHOLD     - Anomaly threshold (default: 0.9)
//	SYNC_EVERY    - Weight sync cadence in frames (default: 90)
//	QUEUE_SIZE    - Windows waiting to be scored before frames overflow (default: 256)
//	MODEL         - Model: autoregressive, remote (default: autoregressive)
//	STORAGE       - Weight storage: memory, file, redis (default: file)
//	REDIS_ADDR    - Redis server address
//	SINKS         - Score sinks: log, redis, none (default: log)
//	TLS_ENABLED   - Serve HTTP and gRPC over mutual TLS (default: false)
//	LOG_LEVEL     - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT    - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vicelab/framewatch/cmd/detector/config"
	"github.com/vicelab/framewatch/cmd/detector/logger"
	"github.com/vicelab/framewatch/cmd/detector/metrics"
	"github.com/vicelab/framewatch/cmd/detector/router"
	"github.com/vicelab/framewatch/cmd/detector/store"
	"github.com/vicelab/framewatch/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting framewatch detector",
		"version", version,
		"source", cfg.Source,
		"model", cfg.Model,
		"storage", cfg.Storage,
		"tls_enabled", cfg.TLS.Enabled,
	)

	if err := run(cfg, log); err != nil {
		log.Error("detector failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, cfg.Name)

	weights, err := store.New(cfg, log)
	if err != nil {
		return err
	}
	if closer, ok := weights.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}()
	}

	sk, closers, err := newSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeAll(closers, log)

	tlsConfig, err := cfg.TLS.Server()
	if err != nil {
		return err
	}

	grpcServer, healthServer := newGRPCServer(tlsConfig)
	onState := func(s State) {
		healthServer.SetServingStatus("", healthStatus(s))
	}

	d, err := newDetector(cfg, log, m, weights, sk, onState)
	if err != nil {
		return err
	}

	httpServer := httpx.NewServer(cfg.Listen, router.SetupRoutes(d, reg, log), log)
	httpServer.UseTLS(tlsConfig)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var grpcListener net.Listener
	if cfg.GRPCListen != "" {
		grpcListener, err = net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return err
		}
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()
	if grpcListener != nil {
		go func() {
			log.Info("grpc server listening", "address", cfg.GRPCListen, "tls", tlsConfig != nil)
			serverErr <- grpcServer.Serve(grpcListener)
		}()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx)
	}()

	var result error
	select {
	case err := <-runErr:
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("received shutdown signal")
		case err != nil:
			result = err
		default:
			// A finite source ends the run while the API stays up for
			// inspection until a signal arrives.
			log.Info("detection finished, serving results until shutdown signal")
			select {
			case <-ctx.Done():
				log.Info("received shutdown signal")
			case err := <-serverErr:
				result = err
			}
		}
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			result = err
		}
		cancel()
		<-runErr
	}

	log.Info("shutting down")
	cancel()

	log.Info("shutting down grpc server")
	grpcServer.GracefulStop()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		if result == nil {
			result = err
		}
	}
	return result
}
