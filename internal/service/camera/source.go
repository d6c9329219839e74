package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/model"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Source pulls single frames from an HTTP camera snapshot endpoint
// (ESP32-CAM style /capture).
type Source struct {
	url      string
	timeout  time.Duration
	maxBytes int64
	client   *http.Client
	logger   *logger.Logger

	seq atomic.Uint64
	now func() time.Time
}

// NewSource creates a Source for the configured camera URL.
func NewSource(cfg *config.Config, logger *logger.Logger) *Source {
	return &Source{
		url:      cfg.CameraURL,
		timeout:  cfg.CameraTimeout,
		maxBytes: cfg.CameraMaxFrameBytes,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        2,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: cfg.CameraTimeout,
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// CaptureFrame performs one bounded GET against the camera.
// It never retries; every failure is returned as a *CaptureError.
func (s *Source) CaptureFrame(ctx context.Context) (*model.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &CaptureError{Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &CaptureError{Reason: ReasonStatus, Err: fmt.Errorf("camera returned %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if len(data) == 0 {
		return nil, &CaptureError{Reason: ReasonEmpty}
	}
	if int64(len(data)) > s.maxBytes {
		return nil, &CaptureError{Reason: ReasonTooLarge, Err: fmt.Errorf("frame exceeds %d bytes", s.maxBytes)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &CaptureError{Reason: ReasonMalformed, Err: err}
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, &CaptureError{Reason: ReasonMalformed, Err: fmt.Errorf("image has zero size %dx%d", cfg.Width, cfg.Height)}
	}

	frame := &model.Frame{
		Seq:        s.seq.Add(1),
		CapturedAt: s.now(),
		Data:       data,
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}
	s.logger.Debug("Captured frame %d (%s %dx%d, %d bytes)", frame.Seq, format, cfg.Width, cfg.Height, len(data))
	return frame, nil
}

func (s *Source) classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &CaptureError{Reason: ReasonTimeout, Err: err}
	}
	return &CaptureError{Reason: ReasonNetwork, Err: err}
}
