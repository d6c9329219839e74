package camera

import "fmt"

// CaptureError reports a failed capture cycle: network failure, timeout,
// unexpected HTTP status or a payload that is not an image.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture failed: %s: %v", e.Reason, e.Err)
	}
	return "capture failed: " + e.Reason
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Capture failure reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonNetwork   = "network"
	ReasonStatus    = "status"
	ReasonEmpty     = "empty payload"
	ReasonTooLarge  = "payload too large"
	ReasonMalformed = "malformed image"
)
