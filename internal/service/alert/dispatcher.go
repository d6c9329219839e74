// Package alert delivers alert events to the home-automation broker.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"watchover/internal/config"
	"watchover/internal/logger"
	"watchover/internal/model"

	"github.com/cenkalti/backoff/v4"
)

// Session is one broker connection, used for a single publish.
type Session interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// Connector opens broker sessions.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Payload is the JSON document published for every alert.
type Payload struct {
	model.AlertEvent
	Message string `json:"message"`
}

// NewPayload builds the published document for an event.
func NewPayload(e model.AlertEvent) Payload {
	return Payload{AlertEvent: e, Message: e.Message()}
}

// Stats counts dispatch outcomes since start.
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Attempts  uint64 `json:"attempts"`
}

// Dispatcher publishes alert events, connecting for each one.
// An event gets at most one retry and the whole call is bounded by the dispatch budget.
type Dispatcher struct {
	connector Connector
	topic     string
	backoff   time.Duration
	budget    time.Duration
	logger    *logger.Logger

	encode func(any) ([]byte, error)

	published atomic.Uint64
	failed    atomic.Uint64
	attempts  atomic.Uint64
}

// NewDispatcher creates a Dispatcher publishing to cfg.AlertTopic through connector.
func NewDispatcher(cfg *config.Config, connector Connector, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		connector: connector,
		topic:     cfg.AlertTopic,
		backoff:   cfg.DispatchRetryBackoff,
		budget:    cfg.DispatchBudget,
		logger:    logger.Named("dispatcher"),
		encode:    json.Marshal,
	}
}

// Topic returns the topic alerts are published to.
func (d *Dispatcher) Topic() string {
	return d.topic
}

// Dispatch publishes event. It returns nil on success and *DispatchError otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.AlertEvent) error {
	if d.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.budget)
		defer cancel()
	}

	attempts := 0
	var lastErr error

	payload, err := d.encode(NewPayload(event))
	if err != nil {
		return d.fail(event, attempts, &stageError{reason: ReasonEncode, err: err})
	}

	operation := func() error {
		attempts++
		d.attempts.Add(1)
		if err := d.publishOnce(ctx, payload); err != nil {
			lastErr = err
			d.logger.Debug("Attempt %d for alert #%d failed: %v", attempts, event.ID, err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.backoff), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if lastErr == nil {
			lastErr = &stageError{reason: ReasonCanceled, err: err}
		}
		return d.fail(event, attempts, lastErr)
	}

	d.published.Add(1)
	d.logger.Info("📡 Alert #%d (%s) published to %s", event.ID, event.Class, d.topic)
	return nil
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Attempts:  d.attempts.Load(),
	}
}

func (d *Dispatcher) publishOnce(ctx context.Context, payload []byte) error {
	session, err := d.connector.Connect(ctx)
	if err != nil {
		return &stageError{reason: ReasonConnect, err: err}
	}
	defer session.Close()

	if err := session.Publish(ctx, d.topic, payload); err != nil {
		return &stageError{reason: ReasonPublish, err: err}
	}
	return nil
}

func (d *Dispatcher) fail(event model.AlertEvent, attempts int, err error) error {
	d.failed.Add(1)
	return &DispatchError{
		EventID:  event.ID,
		Attempts: attempts,
		Reason:   stageOf(err),
		Err:      err,
	}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.reason
	}
	return fmt.Sprintf("unknown (%v)", err)
}
