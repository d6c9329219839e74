package dnn

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/model"
	"watchover/internal/service/ai"

	"gocv.io/x/gocv"
)

const backend = "dnn"

const (
	// candidateThreshold drops raw network outputs before NMS. The alert
	// threshold is applied later by the debouncer.
	candidateThreshold = 0.2
	// inputSize is the square input of the SSD MobileNet graph.
	inputSize = 300
)

// Detector runs an OpenCV DNN (SSD MobileNet COCO) over frames.
// A gocv.Net is not safe for concurrent use, so runs are serialized.
type Detector struct {
	mu           sync.Mutex
	net          gocv.Net
	ready        bool
	modelPath    string
	configPath   string
	nmsThreshold float32
	logger       *logger.Logger
}

// NewDetector creates a detector and tries to load the network.
// A missing model is logged; every Detect then fails with an InferenceError.
func NewDetector(cfg *config.Config, logger *logger.Logger) *Detector {
	d := &Detector{
		modelPath:    cfg.ModelPath,
		configPath:   cfg.ModelConfigPath,
		nmsThreshold: float32(cfg.NMSThreshold),
		logger:       logger,
	}

	if err := d.initializeNet(); err != nil {
		d.logger.Warning("Could not initialize detection network: %v", err)
	}
	return d
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *Detector) initializeNet() error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.modelPath)
	}
	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	d.net = net
	d.ready = true
	d.logger.Info("Detection network initialized successfully")
	return nil
}

// Name implements ai.Detector.
func (d *Detector) Name() string {
	return backend
}

// Detect implements ai.Detector. Output is [batch, class, confidence, x1, y1, x2, y2]
// per row, filtered per class with non-max suppression.
func (d *Detector) Detect(ctx context.Context, frame *model.Frame) (model.DetectionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ai.InferenceError{Backend: backend, Reason: "cancelled", Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready {
		return nil, &ai.InferenceError{Backend: backend, Reason: "detection network not initialized"}
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, &ai.InferenceError{Backend: backend, Reason: "decode", Err: err}
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, &ai.InferenceError{Backend: backend, Reason: "decoded image is empty"}
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(inputSize, inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := float32(mat.Cols()), float32(mat.Rows())

	byClass := make(map[string][]model.Detection)
	var order []string
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence < candidateThreshold {
			continue
		}

		x1 := clamp(int(rows.GetFloatAt(i, 3)*cols), 0, mat.Cols())
		y1 := clamp(int(rows.GetFloatAt(i, 4)*height), 0, mat.Rows())
		x2 := clamp(int(rows.GetFloatAt(i, 5)*cols), 0, mat.Cols())
		y2 := clamp(int(rows.GetFloatAt(i, 6)*height), 0, mat.Rows())
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		label := ai.ClassLabel(int(rows.GetFloatAt(i, 1)))
		if _, seen := byClass[label]; !seen {
			order = append(order, label)
		}
		byClass[label] = append(byClass[label], model.Detection{
			Label:      label,
			Confidence: float64(confidence),
			Box:        model.Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
		})
	}

	var results model.DetectionSet
	for _, label := range order {
		results = append(results, d.suppress(byClass[label])...)
	}

	for _, object := range results {
		d.logger.Debug("Detected %s in frame %d", object, frame.Seq)
	}
	return results, nil
}

// suppress keeps the strongest of every group of overlapping boxes of one class.
func (d *Detector) suppress(candidates []model.Detection) []model.Detection {
	if len(candidates) < 2 {
		return candidates
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = image.Rect(c.Box.X, c.Box.Y, c.Box.X+c.Box.Width, c.Box.Y+c.Box.Height)
		scores[i] = float32(c.Confidence)
	}

	indices := gocv.NMSBoxes(boxes, scores, candidateThreshold, d.nmsThreshold)

	kept := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, candidates[idx])
	}
	return kept
}

// Annotate implements ai.Annotator: draws detections on the frame and re-encodes it as JPEG.
func (d *Detector) Annotate(frame *model.Frame, detections model.DetectionSet) ([]byte, error) {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()

	for _, detection := range detections {
		box := detection.Box
		rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
		if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		pt := image.Pt(box.X, box.Y-5)
		if err := gocv.PutText(&mat, detection.String(), pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	annotated := make([]byte, len(buf.GetBytes()))
	copy(annotated, buf.GetBytes())
	return annotated, nil
}

// Close implements ai.Detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready {
		return nil
	}
	d.ready = false
	return d.net.Close()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	_ ai.Detector  = (*Detector)(nil)
	_ ai.Annotator = (*Detector)(nil)
)
