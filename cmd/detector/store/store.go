// Package store builds the weight snapshot store selected by configuration.
package store

import (
	"fmt"
	"log/slog"

	"github.com/vicelab/framewatch/cmd/detector/config"
	"github.com/vicelab/framewatch/pkg/storage"
)

// New creates the configured store. Callers should close it if it implements
// interface{ Close() error }.
func New(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "memory":
		logger.Info("using in-memory weight storage; weights are lost on exit")
		return storage.NewMemoryStore(), nil

	case "file":
		logger.Info("using file weight storage", "dir", cfg.WeightsDir)
		return storage.NewFileStore(cfg.WeightsDir)

	case "redis":
		logger.Info("using redis weight storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis storage: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}
