package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// New creates a source based on kind and a generic configuration map.
//
// Supported kinds:
//   - "synthetic": keys width, height, fps, disturbEvery, frames
//   - "dir":       keys path (required), watch, interval, settle
//   - "http":      keys url (required), interval, maxFailures, headers (JSON
//     object), imagePath, timestampPath, timestampFormat
//
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string, logger *slog.Logger) (Source, error) {
	switch kind {
	case "synthetic":
		return newSynthetic(config)
	case "dir":
		return newDir(config, logger)
	case "http":
		return newHTTP(config, logger)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be synthetic, dir, or http)", kind)
	}
}

func newSynthetic(config map[string]string) (Source, error) {
	s := &Synthetic{}
	var err error
	if s.Width, err = intOr(config, "width", 64); err != nil {
		return nil, err
	}
	if s.Height, err = intOr(config, "height", 64); err != nil {
		return nil, err
	}
	if s.DisturbEvery, err = intOr(config, "disturbEvery", 0); err != nil {
		return nil, err
	}
	if s.Frames, err = intOr(config, "frames", 0); err != nil {
		return nil, err
	}
	if v := config["fps"]; v != "" {
		if s.FPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid fps %q: %w", v, err)
		}
	}
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("synthetic source requires positive width and height")
	}
	return s, nil
}

func newDir(config map[string]string, logger *slog.Logger) (Source, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("dir source requires 'path' config")
	}
	d := &Dir{Path: path, Logger: logger}
	var err error
	if v := config["watch"]; v != "" {
		if d.Watch, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid watch %q: %w", v, err)
		}
	}
	if d.Interval, err = durationOr(config, "interval", 0); err != nil {
		return nil, err
	}
	if d.Settle, err = durationOr(config, "settle", 0); err != nil {
		return nil, err
	}
	return d, nil
}

func newHTTP(config map[string]string, logger *slog.Logger) (Source, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http source requires 'url' config")
	}

	h := &HTTP{
		URL:             url,
		ImagePath:       config["imagePath"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
		Logger:          logger,
	}
	var err error
	if h.Interval, err = durationOr(config, "interval", time.Second); err != nil {
		return nil, err
	}
	if h.MaxFailures, err = intOr(config, "maxFailures", 5); err != nil {
		return nil, err
	}
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &h.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	return h, nil
}

func intOr(config map[string]string, key string, def int) (int, error) {
	v := config[key]
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func durationOr(config map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := config[key]
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
