package ai

import (
	"context"

	"watchover/internal/model"
)

// Detector is the object-detection capability consumed by the pipeline.
// Any backend (local network, remote inference service) can implement it.
// Implementations must be deterministic for identical weights and frame bytes.
type Detector interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Detect runs inference on one frame. Failures are *InferenceError.
	Detect(ctx context.Context, frame *model.Frame) (model.DetectionSet, error)

	// Close releases backend resources.
	Close() error
}

// Annotator is implemented by backends that can draw their detections onto the frame.
type Annotator interface {
	Annotate(frame *model.Frame, detections model.DetectionSet) ([]byte, error)
}
