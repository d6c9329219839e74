package model

import "time"

// Frame is a single image captured from the camera.
// It is never modified after capture.
type Frame struct {
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Data       []byte    `json:"-"`
	Format     string    `json:"format"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// Size returns the payload length in bytes.
func (f *Frame) Size() int {
	return len(f.Data)
}
