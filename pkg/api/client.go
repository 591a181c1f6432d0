package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vicelab/framewatch/pkg/graph"
	"github.com/vicelab/framewatch/pkg/httpx"
)

// Client talks to a detector's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the detector at baseURL, e.g. http://robot:8080.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewTLSClient(baseURL, timeout, nil)
}

// NewTLSClient creates a client that uses cfg for https base URLs.
func NewTLSClient(baseURL string, timeout time.Duration, cfg *tls.Config) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpx.NewTLSClient(timeout, cfg),
	}
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.getJSON(ctx, "/status", &s)
	return s, err
}

// Graph fetches GET /graph.
func (c *Client) Graph(ctx context.Context) (graph.View, error) {
	var v graph.View
	err := c.getJSON(ctx, "/graph", &v)
	return v, err
}

// NodeImage streams the PNG of anomaly node index into w.
func (c *Client) NodeImage(ctx context.Context, index int, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/graph/nodes/%d/image", index))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	return nil
}

// RequestSave calls POST /weights/save.
func (c *Client) RequestSave(ctx context.Context) (SaveResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/weights/save")
	if err != nil {
		return SaveResponse{}, err
	}
	defer resp.Body.Close()

	var out SaveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SaveResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// do sends the request and converts non-2xx replies into errors carrying the
// server's error message.
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e httpx.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// StatusError is a non-2xx reply from the detector.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("detector returned status %d", e.Code)
	}
	return fmt.Sprintf("detector returned status %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the detector.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
