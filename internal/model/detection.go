package model

import "fmt"

// Box is a bounding box in pixel space.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection represents a detected object in a frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
}

// DetectionSet is every detection produced for one frame.
type DetectionSet []Detection

// Len returns the number of detections.
func (s DetectionSet) Len() int {
	return len(s)
}

// Best returns the highest-confidence detection carrying label.
func (s DetectionSet) Best(label string) (Detection, bool) {
	var (
		best  Detection
		found bool
	)
	for _, d := range s {
		if d.Label != label {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

// Labels returns the distinct labels in order of first appearance.
func (s DetectionSet) Labels() []string {
	seen := make(map[string]struct{}, len(s))
	labels := make([]string, 0, len(s))
	for _, d := range s {
		if _, ok := seen[d.Label]; ok {
			continue
		}
		seen[d.Label] = struct{}{}
		labels = append(labels, d.Label)
	}
	return labels
}
