package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/model"
)

const remoteBackend = "remote"

// maxResponseBytes bounds the inference service response.
const maxResponseBytes = 1 << 20

// RemoteDetector sends frames to an HTTP inference service and decodes its detections.
//
// Request: POST <url> with the raw image as body and X-Frame-Seq header.
// Response: 200 with {"detections":[{"label","confidence","x","y","width","height"}]}.
type RemoteDetector struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *logger.Logger
}

type remoteDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

// NewRemoteDetector creates a detector backed by the configured inference service.
func NewRemoteDetector(cfg *config.Config, logger *logger.Logger) *RemoteDetector {
	return &RemoteDetector{
		url:     cfg.DetectorURL,
		timeout: cfg.InferenceTimeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Name implements Detector.
func (d *RemoteDetector) Name() string {
	return remoteBackend
}

// Detect implements Detector.
func (d *RemoteDetector) Detect(ctx context.Context, frame *model.Frame) (model.DetectionSet, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, &InferenceError{Backend: remoteBackend, Reason: "request", Err: err}
	}
	req.Header.Set("Content-Type", "image/"+frame.Format)
	req.Header.Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		reason := "network"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, &InferenceError{Backend: remoteBackend, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &InferenceError{
			Backend: remoteBackend,
			Reason:  "status",
			Err:     fmt.Errorf("inference service returned %s: %s", resp.Status, bytes.TrimSpace(body)),
		}
	}

	var decoded remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, &InferenceError{Backend: remoteBackend, Reason: "decode", Err: err}
	}

	detections := make(model.DetectionSet, 0, len(decoded.Detections))
	for i, det := range decoded.Detections {
		if det.Label == "" {
			return nil, &InferenceError{Backend: remoteBackend, Reason: "decode", Err: fmt.Errorf("detection %d has no label", i)}
		}
		if det.Confidence < 0 || det.Confidence > 1 {
			return nil, &InferenceError{Backend: remoteBackend, Reason: "decode", Err: fmt.Errorf("detection %d confidence %v out of range", i, det.Confidence)}
		}
		detections = append(detections, model.Detection{
			Label:      det.Label,
			Confidence: det.Confidence,
			Box:        model.Box{X: det.X, Y: det.Y, Width: det.Width, Height: det.Height},
		})
	}

	d.logger.Debug("Remote inference returned %d detection(s) for frame %d", len(detections), frame.Seq)
	return detections, nil
}

// Close implements Detector.
func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
