package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func grayImage(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	if err := os.WriteFile(path, encodePNG(t, grayImage(4, 4, v)), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

// collect runs src until it returns and gathers everything it emitted.
func collect(t *testing.T, ctx context.Context, src Source) ([]Capture, error) {
	t.Helper()
	out := make(chan Capture)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Start(ctx, out)
	}()

	var got []Capture
	for {
		select {
		case c := <-out:
			got = append(got, c)
		case err := <-errc:
			return got, err
		}
	}
}

func grayAt(img image.Image) uint8 {
	return color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y
}

func TestSynthetic_FiniteAndDeterministic(t *testing.T) {
	s := &Synthetic{Width: 8, Height: 6, Frames: 5}

	got, err := collect(t, context.Background(), s)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d captures, want 5", len(got))
	}
	for i, c := range got {
		if !bytes.Equal(c.Image.(*image.Gray).Pix, s.Render(i).Pix) {
			t.Errorf("capture %d differs from Render(%d)", i, i)
		}
		if b := c.Image.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
			t.Errorf("capture %d bounds = %v", i, b)
		}
	}
	if bytes.Equal(s.Render(0).Pix, s.Render(1).Pix) {
		t.Error("consecutive frames should differ")
	}
}

func TestSynthetic_Disturbance(t *testing.T) {
	s := &Synthetic{Width: 8, Height: 8, DisturbEvery: 4}
	plain := &Synthetic{Width: 8, Height: 8}

	for i := 0; i < 9; i++ {
		a, b := s.Render(i), plain.Render(i)
		inverted := i > 0 && i%4 == 0
		for p := range a.Pix {
			want := b.Pix[p]
			if inverted {
				want = 255 - want
			}
			if a.Pix[p] != want {
				t.Fatalf("frame %d pixel %d = %d, want %d (inverted=%v)", i, p, a.Pix[p], want, inverted)
			}
		}
	}
}

func TestSynthetic_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synthetic{Width: 4, Height: 4, FPS: 1000}

	out := make(chan Capture)
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx, out) }()

	<-out
	<-out
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Start() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestDir_ReplayInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-002.png"), 20)
	writePNG(t, filepath.Join(dir, "frame-001.png"), 10)
	writePNG(t, filepath.Join(dir, "frame-003.png"), 30)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := collect(t, context.Background(), &Dir{Path: dir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	want := []uint8{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %d captures, want %d", len(got), len(want))
	}
	for i, c := range got {
		if v := grayAt(c.Image); v != want[i] {
			t.Errorf("capture %d value = %d, want %d", i, v, want[i])
		}
	}
	if got[0].Origin != "frame-001.png" {
		t.Errorf("Origin = %q, want frame-001.png", got[0].Origin)
	}
}

func TestDir_Missing(t *testing.T) {
	_, err := collect(t, context.Background(), &Dir{Path: filepath.Join(t.TempDir(), "nope")})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Start() error = %v, want ErrTransport", err)
	}
}

func TestDir_WatchNewFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &Dir{Path: dir, Watch: true, Settle: 20 * time.Millisecond, Logger: discardLogger()}
	out := make(chan Capture)
	errc := make(chan error, 1)
	go func() { errc <- src.Start(ctx, out) }()

	first := <-out
	if v := grayAt(first.Image); v != 50 {
		t.Fatalf("replayed value = %d, want 50", v)
	}

	writePNG(t, filepath.Join(dir, "b.png"), 150)

	select {
	case c := <-out:
		if v := grayAt(c.Image); v != 150 {
			t.Errorf("watched value = %d, want 150", v)
		}
		if c.Origin != "b.png" {
			t.Errorf("Origin = %q, want b.png", c.Origin)
		}
	case err := <-errc:
		t.Fatalf("Start() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("new file was not emitted")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Start() error = %v, want nil after cancel", err)
	}
}

func TestHTTP_RawSnapshot(t *testing.T) {
	body := encodePNG(t, grayImage(4, 4, 77))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic abc" {
			t.Errorf("missing Authorization header")
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	h := &HTTP{URL: server.URL, Headers: map[string]string{"Authorization": "Basic abc"}}
	c, err := h.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v := grayAt(c.Image); v != 77 {
		t.Errorf("value = %d, want 77", v)
	}
}

func TestHTTP_JSONEnvelope(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(encodePNG(t, grayImage(4, 4, 200)))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"camera": {"frame": %q, "ts": 1717236000}}`, encoded)
	}))
	defer server.Close()

	h := &HTTP{
		URL:             server.URL,
		ImagePath:       "camera.frame",
		TimestampPath:   "camera.ts",
		TimestampFormat: "unix",
	}
	c, err := h.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v := grayAt(c.Image); v != 200 {
		t.Errorf("value = %d, want 200", v)
	}
	if want := time.Unix(1717236000, 0); !c.At.Equal(want) {
		t.Errorf("At = %v, want %v", c.At, want)
	}
}

func TestHTTP_MissingImagePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"other": 1}`)
	}))
	defer server.Close()

	h := &HTTP{URL: server.URL, ImagePath: "frame"}
	if _, err := h.Fetch(context.Background()); err == nil {
		t.Error("Fetch() should fail when image path is absent")
	}
}

func TestHTTP_ConsecutiveFailuresAreFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := &HTTP{URL: server.URL, Interval: time.Millisecond, MaxFailures: 3, Logger: discardLogger()}
	got, err := collect(t, context.Background(), h)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Start() error = %v, want ErrTransport", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d captures, want 0", len(got))
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTP_FailureCountResetsOnSuccess(t *testing.T) {
	body := encodePNG(t, grayImage(2, 2, 1))
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// fail, fail, ok, fail, fail, ok, ...
		if calls.Add(1)%3 != 0 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &HTTP{URL: server.URL, Interval: time.Millisecond, MaxFailures: 3, Logger: discardLogger()}
	out := make(chan Capture)
	errc := make(chan error, 1)
	go func() { errc <- h.Start(ctx, out) }()

	for i := 0; i < 3; i++ {
		select {
		case <-out:
		case err := <-errc:
			t.Fatalf("Start() returned after %d captures: %v", i, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for capture")
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Start() error = %v, want nil after cancel", err)
	}
}

func TestHTTP_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		h       HTTP
		wantErr bool
	}{
		{"valid", HTTP{URL: "http://cam/snapshot.jpg"}, false},
		{"missing url", HTTP{}, true},
		{"bad format", HTTP{URL: "http://cam", TimestampFormat: "weird"}, true},
		{"timestamp without image path", HTTP{URL: "http://cam", TimestampPath: "ts"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.h.ValidateConfig(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
