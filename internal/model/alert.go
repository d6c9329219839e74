package model

import (
	"fmt"
	"time"
)

// AlertEvent is the decision to alert on one class in one frame.
// Events are immutable and their IDs strictly increase.
type AlertEvent struct {
	ID         uint64    `json:"event_id"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        Box       `json:"box"`
	Timestamp  time.Time `json:"timestamp"`
	FrameSeq   uint64    `json:"frame_seq"`
}

// Message renders the event as a single human-readable line.
func (e AlertEvent) Message() string {
	return fmt.Sprintf("Alert #%d: %s detected (%.0f%%) in frame %d",
		e.ID, e.Class, e.Confidence*100, e.FrameSeq)
}

// AlertLogEntry is one line of the recent alert history.
type AlertLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	EventID    uint64    `json:"event_id"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Armed      bool      `json:"armed"`
}

// NewAlertLogEntry builds the history entry for an event.
func NewAlertLogEntry(e AlertEvent, armed bool) AlertLogEntry {
	return AlertLogEntry{
		Timestamp:  e.Timestamp,
		Message:    e.Message(),
		EventID:    e.ID,
		Class:      e.Class,
		Confidence: e.Confidence,
		Armed:      armed,
	}
}

// String formats the entry the way the dashboard lists it.
func (e AlertLogEntry) String() string {
	return fmt.Sprintf("%s: %s", e.Timestamp.Format("2006-01-02 15:04:05.000"), e.Message)
}
