package alert

import "fmt"

// Dispatch failure reasons.
const (
	ReasonEncode   = "encode"
	ReasonConnect  = "connect"
	ReasonPublish  = "publish"
	ReasonCanceled = "canceled"
)

// DispatchError reports an alert that could not be delivered to the broker.
type DispatchError struct {
	EventID  uint64
	Attempts int
	Reason   string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of alert #%d failed after %d attempt(s): %s: %v",
		e.EventID, e.Attempts, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// stageError tags an attempt failure with the stage it happened in.
type stageError struct {
	reason string
	err    error
}

func (e *stageError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }
