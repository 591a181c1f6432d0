package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vicelab/framewatch/pkg/frame"
)

// RemoteModel delegates prediction and parameter exchange to an external model
// service over HTTP. This lets the detector drive any framework-hosted model
// (for example a ConvLSTM served next to the robot) without linking it in.
//
// Service contract:
//
//	POST {endpoint}/predict
//	  {"width":256,"height":256,"horizon":5,"frames":["<b64>",...]}   (newest first)
//	  -> {"frames":["<b64>",...]}                                    (chronological)
//	GET  {endpoint}/weights
//	  -> {"tensors":{"<name>":{"shape":[...],"values":[...]}}}
//	PUT  {endpoint}/weights   same body as the GET response
//
// Frames travel as base64-encoded little-endian float32 pixel arrays.
//
// Two RemoteModel values pointing at different endpoints play the training and
// inference roles; weight sync copies the training service's tensors into the
// inference service.
type RemoteModel struct {
	endpoint string
	horizon  int
	client   *http.Client
}

type remotePredictRequest struct {
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Horizon int      `json:"horizon"`
	Frames  []string `json:"frames"`
}

type remoteWeights struct {
	Tensors Weights `json:"tensors"`
}

// NewRemoteModel creates a model backed by the service at endpoint.
func NewRemoteModel(endpoint string, horizon int, timeout time.Duration) *RemoteModel {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RemoteModel{
		endpoint: strings.TrimRight(endpoint, "/"),
		horizon:  horizon,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// Name returns the model identifier.
func (m *RemoteModel) Name() string {
	return "remote"
}

// Horizon returns the number of predicted frames.
func (m *RemoteModel) Horizon() int {
	return m.horizon
}

// Predict sends the context frames to the model service.
func (m *RemoteModel) Predict(ctx context.Context, input frame.Window) ([]frame.Frame, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("remote: context cannot be empty")
	}
	width, height := input[0].Width, input[0].Height

	req := remotePredictRequest{
		Width:   width,
		Height:  height,
		Horizon: m.horizon,
		Frames:  make([]string, len(input)),
	}
	for i, f := range input {
		if err := f.CheckShape(width, height); err != nil {
			return nil, fmt.Errorf("remote: context frame %d: %w", i, err)
		}
		req.Frames[i] = encodePixels(f.Pix)
	}

	body, err := m.do(ctx, http.MethodPost, "/predict", req)
	if err != nil {
		return nil, err
	}

	encoded := gjson.GetBytes(body, "frames").Array()
	if len(encoded) != m.horizon {
		return nil, fmt.Errorf("remote: expected %d predicted frames, got %d", m.horizon, len(encoded))
	}

	out := make([]frame.Frame, len(encoded))
	for i, e := range encoded {
		pix, err := decodePixels(e.String())
		if err != nil {
			return nil, fmt.Errorf("remote: predicted frame %d: %w", i, err)
		}
		f, err := frame.New(input[0].Seq+uint64(i)+1, input[0].Timestamp, width, height, pix)
		if err != nil {
			return nil, fmt.Errorf("remote: predicted frame %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// Weights fetches the service's current parameters.
func (m *RemoteModel) Weights(ctx context.Context) (Weights, error) {
	body, err := m.do(ctx, http.MethodGet, "/weights", nil)
	if err != nil {
		return nil, err
	}

	tensors := gjson.GetBytes(body, "tensors")
	if !tensors.IsObject() {
		return nil, fmt.Errorf("remote: weights response has no tensors object")
	}

	w := make(Weights)
	tensors.ForEach(func(name, t gjson.Result) bool {
		var tensor Tensor
		for _, d := range t.Get("shape").Array() {
			tensor.Shape = append(tensor.Shape, int(d.Int()))
		}
		values := t.Get("values").Array()
		tensor.Values = make([]float64, len(values))
		for i, v := range values {
			tensor.Values[i] = v.Float()
		}
		w[name.String()] = tensor
		return true
	})
	return w, nil
}

// SetWeights uploads w after checking it against the service's current shapes.
func (m *RemoteModel) SetWeights(ctx context.Context, w Weights) error {
	current, err := m.Weights(ctx)
	if err != nil {
		return err
	}
	if err := CheckShapes(current, w); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	_, err = m.do(ctx, http.MethodPut, "/weights", remoteWeights{Tensors: w})
	return err
}

func (m *RemoteModel) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote: %s %s: http %d: %s", method, path, resp.StatusCode, string(msg))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	return body, nil
}

func encodePixels(pix []float32) string {
	buf := make([]byte, 4*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodePixels(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("pixel payload of %d bytes is not float32 aligned", len(buf))
	}
	pix := make([]float32, len(buf)/4)
	for i := range pix {
		pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return pix, nil
}
