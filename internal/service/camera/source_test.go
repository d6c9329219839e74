package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestSource(url string, timeout time.Duration) *Source {
	cfg := config.Default()
	cfg.CameraURL = url
	cfg.CameraTimeout = timeout
	cfg.CameraMaxFrameBytes = 1 << 20
	return NewSource(cfg, logger.NewNop())
}

func expectCaptureError(t *testing.T, err error, reason string) {
	t.Helper()

	if err == nil {
		t.Fatalf("Expected CaptureError(%s), got nil", reason)
	}
	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("Expected *CaptureError, got %T: %v", err, err)
	}
	if capErr.Reason != reason {
		t.Errorf("Expected reason %q, got %q (%v)", reason, capErr.Reason, err)
	}
}

func TestCaptureFrame_Success(t *testing.T) {
	payload := pngBytes(t, 32, 24)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	src := newTestSource(server.URL, time.Second)

	frame, err := src.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}
	if frame.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", frame.Seq)
	}
	if frame.Format != "png" || frame.Width != 32 || frame.Height != 24 {
		t.Errorf("Unexpected frame metadata: %s %dx%d", frame.Format, frame.Width, frame.Height)
	}
	if !bytes.Equal(frame.Data, payload) {
		t.Error("Frame data does not match payload")
	}
	if frame.CapturedAt.IsZero() {
		t.Error("Expected capture timestamp")
	}

	second, err := src.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("Second capture failed: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("Expected seq 2, got %d", second.Seq)
	}
}

func TestCaptureFrame_HTTP500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera busy", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestSource(server.URL, time.Second).CaptureFrame(context.Background())
	expectCaptureError(t, err, ReasonStatus)
}

func TestCaptureFrame_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	_, err := newTestSource(server.URL, 50*time.Millisecond).CaptureFrame(context.Background())
	expectCaptureError(t, err, ReasonTimeout)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Capture was not bounded by its timeout: %v", elapsed)
	}
}

func TestCaptureFrame_BadPayloads(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		reason string
	}{
		{"empty body", nil, ReasonEmpty},
		{"not an image", []byte("<html>camera offline</html>"), ReasonMalformed},
		{"truncated jpeg header", []byte{0xFF, 0xD8, 0xFF}, ReasonMalformed},
		{"too large", bytes.Repeat([]byte{0x00}, (1<<20)+10), ReasonTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(tt.body)
			}))
			defer server.Close()

			_, err := newTestSource(server.URL, time.Second).CaptureFrame(context.Background())
			expectCaptureError(t, err, tt.reason)
		})
	}
}

func TestCaptureFrame_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestSource(url, time.Second).CaptureFrame(context.Background())
	expectCaptureError(t, err, ReasonNetwork)
}

func TestCaptureFrame_FailureDoesNotAdvanceSeq(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	payload := pngBytes(t, 4, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	src := newTestSource(server.URL, time.Second)
	if _, err := src.CaptureFrame(context.Background()); err == nil {
		t.Fatal("Expected failure")
	}

	fail.Store(false)
	frame, err := src.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("CaptureFrame failed: %v", err)
	}
	if frame.Seq != 1 {
		t.Errorf("Expected seq 1 after failed capture, got %d", frame.Seq)
	}
}
