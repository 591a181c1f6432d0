// Package config provides configuration parsing for the detector.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. YAML file given with -config (keys are flag names)
//  3. Environment variables
//  4. Default values
//
// Source-specific options are collected from repeated -source-opt key=value
// flags, the "source-options" mapping of the YAML file, and SOURCE_*
// environment variables (SOURCE_MAX_FAILURES becomes maxFailures).
//
// Example YAML file:
//
//	source: http
//	source-options:
//	  url: http://camera.local/snapshot.jpg
//	  interval: 33ms
//	threshold: 0.85
//	storage: redis
//	redis-addr: redis:6379
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vicelab/framewatch/pkg/scorer"
	"github.com/vicelab/framewatch/pkg/tls"
)

// Config holds all detector configuration.
type Config struct {
	Name       string
	ConfigFile string

	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Source        string
	SourceOptions map[string]string
	Width         int
	Height        int

	Window     int
	Context    int
	Horizon    int
	SyncEvery  int
	Threshold  float64
	TrainEvery int
	QueueSize  int

	Model        string
	LearningRate float64
	ModelURL     string
	InferenceURL string
	ModelTimeout time.Duration

	Storage     string
	WeightsDir  string
	WeightsName string
	Restore     bool
	SaveOnExit  bool
	SaveAbove   float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	Sinks       []string
	SinkChannel string

	// TLS secures the HTTP API and the gRPC health service with mutual TLS.
	TLS tls.Config
}

// ParseFlags parses os.Args and exits on error.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse builds a Config from args, the optional YAML file, and the environment,
// then validates it. Usage output goes to output.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("detector", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Name, "name", getEnv("DETECTOR_NAME", "detector"), "Detector name used in metrics and logs")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("CONFIG_FILE", ""), "Optional YAML configuration file")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":9090"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", "synthetic"), "Frame source: synthetic, dir, or http")
	sourceOpts := optionsFlag{}
	fs.Var(sourceOpts, "source-opt", "Source option key=value (repeatable)")
	fs.IntVar(&cfg.Width, "width", getEnvInt("FRAME_WIDTH", 256), "Frame width after resize")
	fs.IntVar(&cfg.Height, "height", getEnvInt("FRAME_HEIGHT", 256), "Frame height after resize")

	fs.IntVar(&cfg.Window, "window", getEnvInt("WINDOW", 15), "Frames kept in the sliding window")
	fs.IntVar(&cfg.Context, "context", getEnvInt("CONTEXT", 10), "Newest frames fed to the model")
	fs.IntVar(&cfg.Horizon, "horizon", getEnvInt("HORIZON", 5), "Frames predicted by the model")
	fs.IntVar(&cfg.SyncEvery, "sync-every", getEnvInt("SYNC_EVERY", 90), "Copy training weights to the inference model every N frames")
	fs.Float64Var(&cfg.Threshold, "threshold", getEnvFloat("THRESHOLD", scorer.DefaultThreshold), "Scores strictly below this are anomalies")
	fs.IntVar(&cfg.TrainEvery, "train-every", getEnvInt("TRAIN_EVERY", 1), "Run a training step every N scored frames (0 disables)")
	fs.IntVar(&cfg.QueueSize, "queue-size", getEnvInt("QUEUE_SIZE", 256), "Windows waiting to be scored before new frames overflow")

	fs.StringVar(&cfg.Model, "model", getEnv("MODEL", "autoregressive"), "Model: autoregressive or remote")
	fs.Float64Var(&cfg.LearningRate, "learning-rate", getEnvFloat("LEARNING_RATE", 0.05), "Autoregressive SGD learning rate")
	fs.StringVar(&cfg.ModelURL, "model-url", getEnv("MODEL_URL", ""), "Remote model service URL for the training role (required when model=remote)")
	fs.StringVar(&cfg.InferenceURL, "inference-url", getEnv("INFERENCE_URL", ""), "Remote model service URL for the inference role (defaults to model-url)")
	fs.DurationVar(&cfg.ModelTimeout, "model-timeout", getEnvDuration("MODEL_TIMEOUT", 5*time.Second), "Remote model request timeout")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Weight storage: memory, file, or redis")
	fs.StringVar(&cfg.WeightsDir, "weights-dir", getEnv("WEIGHTS_DIR", "./weights"), "Directory for file weight storage")
	fs.StringVar(&cfg.WeightsName, "weights-name", getEnv("WEIGHTS_NAME", "detector"), "Snapshot name for saved weights")
	fs.BoolVar(&cfg.Restore, "restore", getEnvBool("RESTORE", true), "Load saved weights into the training model at startup")
	fs.BoolVar(&cfg.SaveOnExit, "save-on-exit", getEnvBool("SAVE_ON_EXIT", false), "Always save training weights on shutdown")
	fs.Float64Var(&cfg.SaveAbove, "save-above", getEnvFloat("SAVE_ABOVE", 0), "Request a save on shutdown once a score reaches this value (0 disables)")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Redis weight snapshot TTL (0 keeps forever)")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve the HTTP API and gRPC health service over mutual TLS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	sinks := fs.String("sinks", getEnv("SINKS", "log"), "Comma-separated score sinks: log, redis, none")
	fs.StringVar(&cfg.SinkChannel, "sink-channel", getEnv("SINK_CHANNEL", "framewatch:ssim"), "Redis pub/sub channel for scores")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fileOpts := map[string]string{}
	if cfg.ConfigFile != "" {
		var err error
		fileOpts, err = applyFile(fs, cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
	}

	cfg.SourceOptions = parseSourceEnv()
	for k, v := range fileOpts {
		cfg.SourceOptions[k] = v
	}
	for k, v := range sourceOpts {
		cfg.SourceOptions[k] = v
	}
	cfg.Sinks = splitList(*sinks)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile sets every flag named in the YAML file that was not given on the
// command line. It returns the file's source-options mapping.
func applyFile(fs *flag.FlagSet, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	opts := map[string]string{}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		node := doc[key]
		switch key {
		case "source-options":
			if err := node.Decode(&opts); err != nil {
				return nil, fmt.Errorf("config file %s: source-options: %w", path, err)
			}
			continue
		case "config", "source-opt":
			return nil, fmt.Errorf("config file %s: key %q is not allowed", path, key)
		}

		if fs.Lookup(key) == nil {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("config file %s: key %q must be a scalar", path, key)
		}
		if explicit[key] {
			continue
		}
		if err := fs.Set(key, node.Value); err != nil {
			return nil, fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
	}
	return opts, nil
}

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,126}[a-zA-Z0-9])?$`)

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if !nameRegex.MatchString(c.Name) {
		return fmt.Errorf("invalid name %q (must be alphanumeric with dot/dash/underscore)", c.Name)
	}
	if !nameRegex.MatchString(c.WeightsName) {
		return fmt.Errorf("invalid weights-name %q (must be alphanumeric with dot/dash/underscore)", c.WeightsName)
	}

	switch c.Source {
	case "synthetic", "dir", "http":
	default:
		return fmt.Errorf("invalid source %q (must be synthetic, dir, or http)", c.Source)
	}

	if c.Width < 8 || c.Height < 8 {
		return fmt.Errorf("frame size %dx%d too small (minimum 8x8)", c.Width, c.Height)
	}
	if c.Context <= 0 || c.Horizon <= 0 {
		return fmt.Errorf("context (%d) and horizon (%d) must be > 0", c.Context, c.Horizon)
	}
	if c.Window <= c.Context {
		return fmt.Errorf("window (%d) must exceed context (%d)", c.Window, c.Context)
	}
	if c.SyncEvery <= 0 {
		return fmt.Errorf("sync-every must be > 0")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v outside (0, 1]", c.Threshold)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be > 0")
	}
	if c.TrainEvery < 0 {
		return fmt.Errorf("train-every cannot be negative")
	}
	if c.SaveAbove < 0 || c.SaveAbove > 1 {
		return fmt.Errorf("save-above %v outside [0, 1]", c.SaveAbove)
	}

	switch c.Model {
	case "autoregressive":
		if c.LearningRate < 0 {
			return fmt.Errorf("learning-rate cannot be negative")
		}
	case "remote":
		if c.ModelURL == "" {
			return fmt.Errorf("model-url is required when model=remote")
		}
		if c.InferenceURL == "" {
			c.InferenceURL = c.ModelURL
		}
	default:
		return fmt.Errorf("invalid model %q (must be autoregressive or remote)", c.Model)
	}

	switch c.Storage {
	case "memory":
	case "file":
		if c.WeightsDir == "" {
			return fmt.Errorf("weights-dir is required when storage=file")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr is required when storage=redis")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory, file, or redis)", c.Storage)
	}
	if c.RedisDB < 0 || c.RedisTTL < 0 {
		return fmt.Errorf("redis-db and redis-ttl cannot be negative")
	}

	for _, s := range c.Sinks {
		switch s {
		case "log", "none":
		case "redis":
			if c.RedisAddr == "" {
				return fmt.Errorf("redis-addr is required for the redis sink")
			}
		default:
			return fmt.Errorf("invalid sink %q (must be log, redis, or none)", s)
		}
	}

	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid TLS config: %w", err)
	}
	return nil
}

// optionsFlag collects repeated key=value flags.
type optionsFlag map[string]string

func (o optionsFlag) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k+"="+o[k])
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (o optionsFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[key] = value
	return nil
}

// parseSourceEnv parses SOURCE_* environment variables into source options.
// Variable names are converted to camelCase for the map keys (SOURCE_MAX_FAILURES → maxFailures).
func parseSourceEnv() map[string]string {
	config := make(map[string]string)
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "SOURCE_") || len(name) == len("SOURCE_") {
			continue
		}
		config[toLowerCamelCase(name[len("SOURCE_"):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
