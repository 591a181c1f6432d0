// Package storage persists model weight snapshots so a detector can save its
// training model on shutdown and restore it on the next start.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/vicelab/framewatch/pkg/models"
)

// Snapshot is a saved parameter set.
type Snapshot struct {
	Name       string         `json:"name"`
	Model      string         `json:"model"`
	SavedAt    time.Time      `json:"savedAt"`
	FrameCount int            `json:"frameCount"`
	Weights    models.Weights `json:"weights"`
}

// Store keeps the latest snapshot per name.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, name string) (Snapshot, bool, error)
}

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,126}[a-zA-Z0-9])?$`)

// ValidateName rejects snapshot names that are unsafe as file names or keys.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid snapshot name %q: only alphanumeric, dots, hyphens, and underscores allowed", name)
	}
	return nil
}
