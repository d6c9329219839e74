package ai

import "fmt"

// InferenceError reports a failed detection run. It ends the current cycle
// but never the process.
type InferenceError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s inference failed: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s inference failed: %s", e.Backend, e.Reason)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
