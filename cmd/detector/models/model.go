// Package models builds the detector's training and inference model pair.
package models

import (
	"fmt"
	"log/slog"

	"github.com/vicelab/framewatch/cmd/detector/config"
	"github.com/vicelab/framewatch/pkg/models"
)

// Role selects which instance of the pair to build.
type Role string

const (
	RoleTrain     Role = "train"
	RoleInference Role = "inference"
)

// New creates one model instance for role. The two roles never share an
// instance; inference receives the training parameters through weight sync.
func New(cfg *config.Config, role Role, logger *slog.Logger) (models.Model, error) {
	switch cfg.Model {
	case "autoregressive":
		lr := cfg.LearningRate
		if role == RoleInference {
			lr = 0
		}
		logger.Info("initializing autoregressive model",
			"role", role,
			"context", cfg.Context,
			"horizon", cfg.Horizon,
			"learning_rate", lr,
		)
		return models.NewAutoregressiveModel(cfg.Context, cfg.Horizon, lr), nil

	case "remote":
		endpoint := cfg.ModelURL
		if role == RoleInference {
			endpoint = cfg.InferenceURL
		}
		logger.Info("initializing remote model",
			"role", role,
			"endpoint", endpoint,
			"horizon", cfg.Horizon,
			"timeout", cfg.ModelTimeout,
		)
		return models.NewRemoteModel(endpoint, cfg.Horizon, cfg.ModelTimeout), nil

	default:
		return nil, fmt.Errorf("invalid model type %q", cfg.Model)
	}
}
