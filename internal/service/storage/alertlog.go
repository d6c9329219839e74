package storage

import (
	"sync"

	"watchover/internal/model"
)

// AlertLog keeps the most recent alert entries in memory.
// Once full, appending evicts the oldest entry.
type AlertLog struct {
	mu      sync.Mutex
	entries []model.AlertLogEntry
	start   int
	count   int
}

// NewAlertLog creates an AlertLog holding up to capacity entries.
func NewAlertLog(capacity int) *AlertLog {
	if capacity < 1 {
		capacity = 1
	}
	return &AlertLog{entries: make([]model.AlertLogEntry, capacity)}
}

// Append adds an entry, evicting the oldest one when the log is full.
func (l *AlertLog) Append(entry model.AlertLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.entries)
	if l.count < capacity {
		l.entries[(l.start+l.count)%capacity] = entry
		l.count++
		return
	}
	l.entries[l.start] = entry
	l.start = (l.start + 1) % capacity
}

// Recent returns up to n of the newest entries, oldest first.
func (l *AlertLog) Recent(n int) []model.AlertLogEntry {
	if n <= 0 {
		return []model.AlertLogEntry{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}
	out := make([]model.AlertLogEntry, n)
	capacity := len(l.entries)
	first := l.start + l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.entries[(first+i)%capacity]
	}
	return out
}

// Len returns the number of entries held.
func (l *AlertLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the maximum number of entries held.
func (l *AlertLog) Cap() int {
	return len(l.entries)
}
