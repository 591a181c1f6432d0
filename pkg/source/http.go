package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// maxSnapshotBytes bounds a single snapshot response.
const maxSnapshotBytes = 32 << 20

// HTTP polls a camera snapshot endpoint.
//
// Most IP cameras serve the current frame directly as image/jpeg at a URL such
// as /snapshot.jpg. Some gateways wrap it in JSON instead; for those, set
// ImagePath to the gjson path of a base64 field and, optionally, TimestampPath
// to the capture time.
//
// Individual failed polls are logged and retried. MaxFailures consecutive
// failures end the source with ErrTransport.
type HTTP struct {
	// URL is the snapshot endpoint (required).
	URL string

	// Interval between polls. Defaults to 1s.
	Interval time.Duration

	// Headers are sent with every request, e.g. camera credentials.
	Headers map[string]string

	// ImagePath is the gjson path to a base64 image in a JSON response.
	ImagePath string

	// TimestampPath is the gjson path to the capture time in a JSON response.
	TimestampPath string

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// MaxFailures is the number of consecutive failed polls tolerated.
	// Defaults to 5.
	MaxFailures int

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Start(ctx context.Context, out chan<- Capture) error {
	if h.URL == "" {
		return errors.New("http source: URL is required")
	}
	interval := h.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxFailures := h.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	failures := 0
	for {
		c, err := h.Fetch(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			logger.Warn("snapshot poll failed", "url", h.URL, "failures", failures, "error", err)
			if failures >= maxFailures {
				return fmt.Errorf("%w: %d consecutive failures polling %s: %v", ErrTransport, failures, h.URL, err)
			}
		default:
			failures = 0
			if !emit(ctx, out, c) {
				return nil
			}
		}

		if !pace(ctx, interval) {
			return nil
		}
	}
}

// Fetch performs a single poll.
func (h *HTTP) Fetch(ctx context.Context) (Capture, error) {
	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Capture{}, fmt.Errorf("create request: %w", err)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return Capture{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Capture{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Capture{}, fmt.Errorf("read response: %w", err)
	}

	at := time.Now()
	if h.ImagePath != "" || isJSON(resp.Header.Get("Content-Type")) {
		return h.decodeEnvelope(body, at)
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return Capture{}, fmt.Errorf("decode image: %w", err)
	}
	return Capture{Image: img, At: at, Origin: h.URL}, nil
}

func (h *HTTP) decodeEnvelope(body []byte, at time.Time) (Capture, error) {
	path := h.ImagePath
	if path == "" {
		path = "image"
	}
	field := gjson.GetBytes(body, path)
	if !field.Exists() {
		return Capture{}, fmt.Errorf("image path %q not found in response", path)
	}
	raw, err := base64.StdEncoding.DecodeString(field.String())
	if err != nil {
		return Capture{}, fmt.Errorf("decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Capture{}, fmt.Errorf("decode image: %w", err)
	}

	if h.TimestampPath != "" {
		ts := gjson.GetBytes(body, h.TimestampPath)
		if !ts.Exists() {
			return Capture{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
		}
		at, err = h.parseTimestamp(ts)
		if err != nil {
			return Capture{}, fmt.Errorf("parse timestamp: %w", err)
		}
	}
	return Capture{Image: img, At: at, Origin: h.URL}, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTP) parseTimestamp(value gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

// ValidateConfig checks if the source configuration is valid
func (h *HTTP) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
	if h.TimestampPath != "" && h.ImagePath == "" {
		return errors.New("timestampPath requires imagePath")
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
