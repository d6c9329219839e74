// Package debounce turns the per-frame detection stream into discrete alert events.
package debounce

import (
	"sort"
	"time"

	"watchover/internal/config"
	"watchover/internal/model"
)

// Settings are the tunables of the debounce policy. They can change at runtime.
type Settings struct {
	// ConfidenceThreshold drops detections scoring below it.
	ConfidenceThreshold float64
	// Window is the minimum time between two events of the same class.
	Window time.Duration
	// Classes restricts alerting to these labels; empty allows every label.
	Classes []string
}

// SettingsFrom extracts the debounce tunables from the configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Window:              cfg.DebounceWindow,
		Classes:             append([]string(nil), cfg.AlertClasses...),
	}
}

type lastEvent struct {
	at time.Time
	id uint64
}

// Debouncer decides which detections become alert events.
// History is kept per class so an unrelated class never suppresses a new one.
// A Debouncer is owned by a single goroutine and is not safe for concurrent use.
type Debouncer struct {
	settings Settings
	allowed  map[string]struct{}
	last     map[string]lastEvent
	nextID   uint64
}

// New creates a Debouncer with empty history.
func New(settings Settings) *Debouncer {
	d := &Debouncer{last: make(map[string]lastEvent)}
	d.Configure(settings)
	return d
}

// Configure replaces the settings and keeps the per-class history.
func (d *Debouncer) Configure(settings Settings) {
	d.settings = settings
	d.allowed = nil
	if len(settings.Classes) > 0 {
		d.allowed = make(map[string]struct{}, len(settings.Classes))
		for _, class := range settings.Classes {
			d.allowed[class] = struct{}{}
		}
	}
}

// Evaluate returns one event per class that qualifies in this frame, ordered by class.
// A class qualifies when it has a detection at or above the threshold and either
// never alerted or last alerted more than Window before now.
// The event carries the highest-confidence detection of its class.
func (d *Debouncer) Evaluate(detections model.DetectionSet, frameSeq uint64, now time.Time) []model.AlertEvent {
	var classes []string
	for _, label := range detections.Labels() {
		if d.allowed != nil {
			if _, ok := d.allowed[label]; !ok {
				continue
			}
		}
		if det, _ := detections.Best(label); det.Confidence >= d.settings.ConfidenceThreshold {
			classes = append(classes, label)
		}
	}
	if len(classes) == 0 {
		return nil
	}
	sort.Strings(classes)

	var events []model.AlertEvent
	for _, class := range classes {
		if prev, ok := d.last[class]; ok && now.Sub(prev.at) <= d.settings.Window {
			continue
		}

		d.nextID++
		det, _ := detections.Best(class)
		events = append(events, model.AlertEvent{
			ID:         d.nextID,
			Class:      class,
			Confidence: det.Confidence,
			Box:        det.Box,
			Timestamp:  now,
			FrameSeq:   frameSeq,
		})
		d.last[class] = lastEvent{at: now, id: d.nextID}
	}
	return events
}

// LastEvent reports when class last produced an event and that event's id.
func (d *Debouncer) LastEvent(class string) (time.Time, uint64, bool) {
	prev, ok := d.last[class]
	return prev.at, prev.id, ok
}
