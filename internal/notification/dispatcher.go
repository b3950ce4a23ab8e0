package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/pkg/workerpool"
)

// Dispatcher hands ready events to a bounded worker pool so the caller never
// waits on the webhook. It serves single-process deployments where no broker
// sits between the engine and the notifier.
type Dispatcher struct {
	pool    *workerpool.Pool
	handler *Handler
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over handler
func NewDispatcher(handler *Handler, cfg workerpool.Config, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ShouldRetry = Retryable

	pool, err := workerpool.New(cfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		ev := task.Payload.(*prescription.Event)
		if err := handler.HandleEvent(ctx, ev); err != nil {
			return &workerpool.Result{Error: err}
		}
		return &workerpool.Result{Success: true}
	}, logger.Named("notify-pool"))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{pool: pool, handler: handler, logger: logger}, nil
}

// Start launches the workers
func (d *Dispatcher) Start() { d.pool.Start() }

// Stop waits for queued notices
func (d *Dispatcher) Stop() error { return d.pool.Stop() }

// Stats exposes the pool counters for the health endpoint
func (d *Dispatcher) Stats() workerpool.Stats { return d.pool.Stats() }

// Dispatch queues ev when it was routed to the pickup topic. A full queue
// drops the notice with a warning.
func (d *Dispatcher) Dispatch(topic string, ev prescription.Event) bool {
	if topic != prescription.TopicPickupNotifications {
		return false
	}
	if err := d.pool.Submit(&workerpool.Task{ID: ev.ID, Payload: &ev}); err != nil {
		d.logger.Warn("pickup notice dropped",
			zap.String("event_id", ev.ID),
			zap.String("prescription_id", ev.AggregateID),
			zap.Error(err))
		return false
	}
	return true
}

// Pump polls drain every interval and dispatches what it returns until ctx ends
func (d *Dispatcher) Pump(ctx context.Context, interval time.Duration, drain func() []Routed) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range drain() {
				d.Dispatch(r.Topic, r.Event)
			}
		}
	}
}

// Routed is an event together with the topic the engine routed it to
type Routed struct {
	Topic string
	Event prescription.Event
}
