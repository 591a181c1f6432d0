package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil, io.Discard)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Window != 15 || cfg.Context != 10 || cfg.Horizon != 5 {
		t.Errorf("window/context/horizon = %d/%d/%d, want 15/10/5", cfg.Window, cfg.Context, cfg.Horizon)
	}
	if cfg.SyncEvery != 90 {
		t.Errorf("SyncEvery = %d, want 90", cfg.SyncEvery)
	}
	if cfg.Threshold != 0.9 {
		t.Errorf("Threshold = %v, want 0.9", cfg.Threshold)
	}
	if cfg.Width != 256 || cfg.Height != 256 {
		t.Errorf("size = %dx%d, want 256x256", cfg.Width, cfg.Height)
	}
	if cfg.Source != "synthetic" || cfg.Model != "autoregressive" || cfg.Storage != "file" {
		t.Errorf("source/model/storage = %s/%s/%s", cfg.Source, cfg.Model, cfg.Storage)
	}
	if !cfg.Restore || cfg.SaveOnExit {
		t.Errorf("Restore = %v, SaveOnExit = %v", cfg.Restore, cfg.SaveOnExit)
	}
	if diff := cmp.Diff([]string{"log"}, cfg.Sinks); diff != "" {
		t.Errorf("Sinks mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Flags(t *testing.T) {
	cfg, err := Parse([]string{
		"-source=http",
		"-source-opt", "url=http://cam/snapshot.jpg",
		"-source-opt", "interval=100ms",
		"-threshold=0.75",
		"-sync-every=30",
		"-sinks=log, redis",
		"-model=remote",
		"-model-url=http://model:9000",
	}, io.Discard)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := map[string]string{"url": "http://cam/snapshot.jpg", "interval": "100ms"}
	if diff := cmp.Diff(want, cfg.SourceOptions); diff != "" {
		t.Errorf("SourceOptions mismatch (-want +got):\n%s", diff)
	}
	if cfg.Threshold != 0.75 || cfg.SyncEvery != 30 {
		t.Errorf("threshold = %v, sync-every = %d", cfg.Threshold, cfg.SyncEvery)
	}
	if diff := cmp.Diff([]string{"log", "redis"}, cfg.Sinks); diff != "" {
		t.Errorf("Sinks mismatch (-want +got):\n%s", diff)
	}
	if cfg.InferenceURL != "http://model:9000" {
		t.Errorf("InferenceURL = %q, want default to model-url", cfg.InferenceURL)
	}
}

func TestParse_Precedence(t *testing.T) {
	t.Setenv("THRESHOLD", "0.5")
	t.Setenv("SYNC_EVERY", "45")
	t.Setenv("HORIZON", "4")
	t.Setenv("SOURCE_URL", "http://env/snap.jpg")
	t.Setenv("SOURCE_MAX_FAILURES", "9")

	path := writeFile(t, `
threshold: 0.8
sync-every: 60
source: http
source-options:
  url: http://file/snap.jpg
  interval: 1s
`)

	cfg, err := Parse([]string{"-config", path, "-sync-every=120"}, io.Discard)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.SyncEvery != 120 {
		t.Errorf("SyncEvery = %d, want 120 (flag beats file)", cfg.SyncEvery)
	}
	if cfg.Threshold != 0.8 {
		t.Errorf("Threshold = %v, want 0.8 (file beats env)", cfg.Threshold)
	}
	if cfg.Horizon != 4 {
		t.Errorf("Horizon = %d, want 4 (env beats default)", cfg.Horizon)
	}

	want := map[string]string{
		"url":         "http://file/snap.jpg",
		"interval":    "1s",
		"maxFailures": "9",
	}
	if diff := cmp.Diff(want, cfg.SourceOptions); diff != "" {
		t.Errorf("SourceOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_FileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "bogus: 1\n", "unknown key"},
		{"nested value", "threshold:\n  a: 1\n", "must be a scalar"},
		{"bad value", "sync-every: often\n", "sync-every"},
		{"recursive config", "config: other.yaml\n", "not allowed"},
		{"invalid yaml", "threshold: [\n", "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]string{"-config", writeFile(t, tt.content)}, io.Discard)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_MissingFile(t *testing.T) {
	if _, err := Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard); err == nil {
		t.Error("Parse() should fail for a missing config file")
	}
}

func TestParse_BadSourceOpt(t *testing.T) {
	if _, err := Parse([]string{"-source-opt", "novalue"}, io.Discard); err == nil {
		t.Error("Parse() should reject a source option without '='")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse(nil, io.Discard)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad name", func(c *Config) { c.Name = "has space" }},
		{"bad weights name", func(c *Config) { c.WeightsName = "../x" }},
		{"unknown source", func(c *Config) { c.Source = "kafka" }},
		{"tiny frame", func(c *Config) { c.Width = 4 }},
		{"window not above context", func(c *Config) { c.Window = 10 }},
		{"zero horizon", func(c *Config) { c.Horizon = 0 }},
		{"zero sync", func(c *Config) { c.SyncEvery = 0 }},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"negative train-every", func(c *Config) { c.TrainEvery = -1 }},
		{"save-above out of range", func(c *Config) { c.SaveAbove = 2 }},
		{"unknown model", func(c *Config) { c.Model = "lstm" }},
		{"remote without url", func(c *Config) { c.Model = "remote"; c.ModelURL = "" }},
		{"unknown storage", func(c *Config) { c.Storage = "s3" }},
		{"file without dir", func(c *Config) { c.WeightsDir = "" }},
		{"redis without addr", func(c *Config) { c.Storage = "redis"; c.RedisAddr = "" }},
		{"unknown sink", func(c *Config) { c.Sinks = []string{"kafka"} }},
		{"negative ttl", func(c *Config) { c.RedisTTL = -time.Second }},
		{"tls without files", func(c *Config) { c.TLS.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestToLowerCamelCase(t *testing.T) {
	tests := map[string]string{
		"URL":             "url",
		"MAX_FAILURES":    "maxFailures",
		"TIMESTAMP_PATH":  "timestampPath",
		"DISTURB_EVERY":   "disturbEvery",
		"A__B":            "aB",
		"IMAGE_PATH_NAME": "imagePathName",
	}
	for in, want := range tests {
		if got := toLowerCamelCase(in); got != want {
			t.Errorf("toLowerCamelCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BOOL", "1")

	if got := getEnv("TEST_UNSET_VAR", "default"); got != "default" {
		t.Errorf("getEnv() = %q", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want default", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 0); got != 0.25 {
		t.Errorf("getEnvFloat() = %v", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
}
