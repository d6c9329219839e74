package model

import (
	"strings"
	"testing"
	"time"
)

func TestDetectionSet_Best(t *testing.T) {
	set := DetectionSet{
		{Label: "person", Confidence: 0.6},
		{Label: "dog", Confidence: 0.95},
		{Label: "person", Confidence: 0.9},
		{Label: "person", Confidence: 0.7},
	}

	best, ok := set.Best("person")
	if !ok {
		t.Fatal("expected a person detection")
	}
	if best.Confidence != 0.9 {
		t.Errorf("Expected best confidence 0.9, got %.2f", best.Confidence)
	}

	if _, ok := set.Best("car"); ok {
		t.Error("Expected no car detection")
	}
}

func TestDetectionSet_Labels(t *testing.T) {
	set := DetectionSet{{Label: "cat"}, {Label: "person"}, {Label: "cat"}}

	labels := set.Labels()
	if len(labels) != 2 || labels[0] != "cat" || labels[1] != "person" {
		t.Errorf("Unexpected labels: %v", labels)
	}
}

func TestAlertLogEntry_FromEvent(t *testing.T) {
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	ev := AlertEvent{ID: 7, Class: "person", Confidence: 0.9, Timestamp: ts, FrameSeq: 42}

	entry := NewAlertLogEntry(ev, true)
	if entry.EventID != 7 || entry.Class != "person" || !entry.Armed {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if !strings.Contains(entry.Message, "person") || !strings.Contains(entry.Message, "90%") {
		t.Errorf("Message missing details: %s", entry.Message)
	}
	if !strings.HasPrefix(entry.String(), "2025-06-15 14:30:00.000") {
		t.Errorf("Unexpected rendering: %s", entry.String())
	}
}
