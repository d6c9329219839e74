// Package pipeline runs the capture, detect, debounce and dispatch loop.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/model"
	"watchover/internal/service/ai"
	"watchover/internal/service/alert"
	"watchover/internal/service/camera"
	"watchover/internal/service/debounce"
	"watchover/internal/service/storage"
)

type FrameSource interface {
	CaptureFrame(ctx context.Context) (*model.Frame, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event model.AlertEvent) error
}

// Notifier receives every alert event for live viewers. It must not block.
type Notifier interface {
	BroadcastAlert(event model.AlertEvent, armed bool, snapshot []byte) bool
}

// Dependencies are the collaborators of a Controller. Notifier is optional.
type Dependencies struct {
	Source     FrameSource
	Detector   ai.Detector
	Debouncer  *debounce.Debouncer
	Dispatcher Dispatcher
	AlertLog   *storage.AlertLog
	Notifier   Notifier
}

// Options tune the loop timing. DispatchBudget bounds the delivery of all
// events raised by one frame together.
type Options struct {
	Interval            time.Duration
	CaptureFailureLimit int
	CaptureBackoff      time.Duration
	InferenceTimeout    time.Duration
	DispatchBudget      time.Duration
	StartArmed          bool
	Now                 func() time.Time
}

// OptionsFrom reads the loop options from the configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Interval:            cfg.CycleInterval,
		CaptureFailureLimit: cfg.CaptureFailureLimit,
		CaptureBackoff:      cfg.CaptureBackoff,
		InferenceTimeout:    cfg.InferenceTimeout,
		DispatchBudget:      cfg.DispatchBudget,
		StartArmed:          cfg.StartArmed,
	}
}

// Status is a point-in-time view of the pipeline health.
type Status struct {
	State                string     `json:"state"`
	Armed                bool       `json:"armed"`
	Detector             string     `json:"detector"`
	Cycles               uint64     `json:"cycles"`
	Events               uint64     `json:"events"`
	Dispatched           uint64     `json:"dispatched"`
	CaptureFailureStreak int64      `json:"capture_failure_streak"`
	CaptureFailures      uint64     `json:"capture_failures"`
	InferenceFailures    uint64     `json:"inference_failures"`
	DispatchFailures     uint64     `json:"dispatch_failures"`
	LastSuccess          *time.Time `json:"last_success,omitempty"`
	Degraded             bool       `json:"degraded"`
	AlertLogSize         int        `json:"alert_log_size"`
	AlertLogCapacity     int        `json:"alert_log_capacity"`
	// Delivery is set when the dispatcher keeps its own counters.
	Delivery *alert.Stats `json:"delivery,omitempty"`
}

type statsReporter interface {
	Stats() alert.Stats
}

// Controller owns the pipeline loop and the armed flag.
// Control methods are safe to call from any goroutine.
type Controller struct {
	deps   Dependencies
	opts   Options
	logger *logger.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	armed   atomic.Bool
	pending atomic.Pointer[debounce.Settings]

	cycles            atomic.Uint64
	events            atomic.Uint64
	dispatched        atomic.Uint64
	captureStreak     atomic.Int64
	captureFailures   atomic.Uint64
	inferenceFailures atomic.Uint64
	dispatchFailures  atomic.Uint64
	lastSuccess       atomic.Int64
}

func NewController(deps Dependencies, opts Options, logger *logger.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CaptureFailureLimit < 1 {
		opts.CaptureFailureLimit = 1
	}

	c := &Controller{
		deps:   deps,
		opts:   opts,
		logger: logger.Named("pipeline"),
	}
	c.armed.Store(opts.StartArmed)
	return c
}

// Start launches the loop. The loop outlives ctx's cancellation; use Stop to end it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Running:
		return ErrAlreadyRunning
	case Stopping:
		return ErrStopping
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = Running

	go c.run(loopCtx, c.done)

	c.logger.Info("🚀 Pipeline started (interval %v, armed: %v)", c.opts.Interval, c.IsArmed())
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish or for ctx to end.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return nil
	}
	if c.state == Running {
		c.state = Stopping
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Arm() {
	if !c.armed.Swap(true) {
		c.logger.Info("🔔 Alarm armed")
	}
}

func (c *Controller) Disarm() {
	if c.armed.Swap(false) {
		c.logger.Info("🔕 Alarm disarmed")
	}
}

// Toggle flips the armed flag and returns the new value.
func (c *Controller) Toggle() bool {
	for {
		old := c.armed.Load()
		if c.armed.CompareAndSwap(old, !old) {
			if old {
				c.logger.Info("🔕 Alarm disarmed")
			} else {
				c.logger.Info("🔔 Alarm armed")
			}
			return !old
		}
	}
}

func (c *Controller) IsArmed() bool {
	return c.armed.Load()
}

// RecentAlerts returns up to n of the newest alert log entries, oldest first.
func (c *Controller) RecentAlerts(n int) []model.AlertLogEntry {
	return c.deps.AlertLog.Recent(n)
}

// UpdateSettings replaces the debounce settings at the start of the next cycle.
func (c *Controller) UpdateSettings(settings debounce.Settings) {
	c.pending.Store(&settings)
	c.logger.Info("Debounce settings updated: threshold %.2f, window %v, classes %v",
		settings.ConfidenceThreshold, settings.Window, settings.Classes)
}

func (c *Controller) Status() Status {
	streak := c.captureStreak.Load()
	status := Status{
		State:                c.State().String(),
		Armed:                c.IsArmed(),
		Detector:             c.deps.Detector.Name(),
		Cycles:               c.cycles.Load(),
		Events:               c.events.Load(),
		Dispatched:           c.dispatched.Load(),
		CaptureFailureStreak: streak,
		CaptureFailures:      c.captureFailures.Load(),
		InferenceFailures:    c.inferenceFailures.Load(),
		DispatchFailures:     c.dispatchFailures.Load(),
		Degraded:             streak >= int64(c.opts.CaptureFailureLimit),
		AlertLogSize:         c.deps.AlertLog.Len(),
		AlertLogCapacity:     c.deps.AlertLog.Cap(),
	}
	if reporter, ok := c.deps.Dispatcher.(statsReporter); ok {
		stats := reporter.Stats()
		status.Delivery = &stats
	}
	if nanos := c.lastSuccess.Load(); nanos != 0 {
		at := time.Unix(0, nanos)
		status.LastSuccess = &at
	}
	return status
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.state = Stopped
		c.cancel = nil
		close(done)
		c.mu.Unlock()
		c.logger.Info("🛑 Pipeline stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		c.cycle(ctx)

		timer := time.NewTimer(c.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) nextDelay() time.Duration {
	if c.captureStreak.Load() >= int64(c.opts.CaptureFailureLimit) {
		return c.opts.CaptureBackoff
	}
	return c.opts.Interval
}

// cycle runs one capture, detect, debounce and dispatch pass. Errors end the
// cycle and are counted; they never end the loop. A panic in a collaborator
// is counted as an inference failure.
func (c *Controller) cycle(ctx context.Context) {
	defer c.cycles.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.inferenceFailures.Add(1)
			c.logger.Error("Cycle aborted by panic: %v", r)
		}
	}()

	if settings := c.pending.Swap(nil); settings != nil {
		c.deps.Debouncer.Configure(*settings)
	}

	frame, err := c.deps.Source.CaptureFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.captureFailed(err)
		return
	}
	if streak := c.captureStreak.Swap(0); streak >= int64(c.opts.CaptureFailureLimit) {
		c.logger.Info("📷 Camera recovered after %d failed captures", streak)
	}
	c.logger.Debug("Frame %d captured (%d bytes)", frame.Seq, frame.Size())

	detections, err := c.detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.inferenceFailures.Add(1)
		c.logger.Error("Detection on frame %d failed: %v", frame.Seq, err)
		return
	}

	events := c.deps.Debouncer.Evaluate(detections, frame.Seq, c.opts.Now())

	var snapshot []byte
	if len(events) > 0 && c.deps.Notifier != nil {
		snapshot = c.snapshot(frame, detections)
	}

	dispatchCtx := ctx
	if len(events) > 0 && c.opts.DispatchBudget > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, c.opts.DispatchBudget)
		defer cancel()
	}
	for _, event := range events {
		c.handleEvent(dispatchCtx, event, snapshot)
	}

	c.lastSuccess.Store(c.opts.Now().UnixNano())
}

func (c *Controller) detect(ctx context.Context, frame *model.Frame) (model.DetectionSet, error) {
	if c.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.InferenceTimeout)
		defer cancel()
	}
	return c.deps.Detector.Detect(ctx, frame)
}

func (c *Controller) handleEvent(ctx context.Context, event model.AlertEvent, snapshot []byte) {
	armed := c.armed.Load()

	c.deps.AlertLog.Append(model.NewAlertLogEntry(event, armed))
	c.events.Add(1)
	c.logger.Warning("🚨 %s (armed: %v)", event.Message(), armed)

	if armed {
		if err := c.deps.Dispatcher.Dispatch(ctx, event); err != nil {
			c.dispatchFailures.Add(1)
			var dispatchErr *alert.DispatchError
			if errors.As(err, &dispatchErr) {
				c.logger.Error("Alert #%d not delivered (%s, %d attempts): %v",
					event.ID, dispatchErr.Reason, dispatchErr.Attempts, dispatchErr.Err)
			} else {
				c.logger.Error("Alert #%d not delivered: %v", event.ID, err)
			}
		} else {
			c.dispatched.Add(1)
		}
	}

	if c.deps.Notifier != nil {
		c.deps.Notifier.BroadcastAlert(event, armed, snapshot)
	}
}

func (c *Controller) snapshot(frame *model.Frame, detections model.DetectionSet) []byte {
	annotator, ok := c.deps.Detector.(ai.Annotator)
	if !ok {
		return frame.Data
	}
	data, err := annotator.Annotate(frame, detections)
	if err != nil {
		c.logger.Warning("Could not annotate frame %d: %v", frame.Seq, err)
		return frame.Data
	}
	return data
}

func (c *Controller) captureFailed(err error) {
	streak := c.captureStreak.Add(1)
	c.captureFailures.Add(1)

	reason := "unknown"
	var captureErr *camera.CaptureError
	if errors.As(err, &captureErr) {
		reason = captureErr.Reason
	}

	switch {
	case streak == int64(c.opts.CaptureFailureLimit):
		c.logger.Error("📷 %d consecutive capture failures (%s), backing off %v: %v",
			streak, reason, c.opts.CaptureBackoff, err)
	case streak > int64(c.opts.CaptureFailureLimit):
		c.logger.Debug("Capture still failing (%d): %v", streak, err)
	default:
		c.logger.Warning("Capture failed (%s): %v", reason, err)
	}
}
