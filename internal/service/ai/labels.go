package ai

import "fmt"

// cocoLabels maps COCO class ids (as emitted by the SSD MobileNet graphs) to labels.
var cocoLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	7:  "train",
	8:  "truck",
	9:  "boat",
	16: "bird",
	17: "cat",
	18: "dog",
	19: "horse",
	20: "sheep",
	21: "cow",
	27: "backpack",
	31: "handbag",
	33: "suitcase",
	44: "bottle",
	62: "chair",
	77: "cell phone",
}

// ClassLabel maps a model class id to a human-readable label.
func ClassLabel(classID int) string {
	if label, exists := cocoLabels[classID]; exists {
		return label
	}
	return fmt.Sprintf("class_%d", classID)
}
