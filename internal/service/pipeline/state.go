package pipeline

import "errors"

// State is the lifecycle state of the pipeline loop.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrStopping       = errors.New("pipeline is stopping")
)
