package usecase

import (
	"context"
	"fmt"

	"famnet-backend/internal/notification/domain"
	"famnet-backend/pkg/metrics"
	"famnet-backend/pkg/worker"

	"go.uber.org/zap"
)

// EventHandler processes one event. *Notifier implements it.
type EventHandler interface {
	Handle(ctx context.Context, e domain.Event) error
}

// Dispatcher hands events to the worker pool so the triggering action never
// waits for delivery.
type Dispatcher struct {
	pool    *worker.Pool
	handler EventHandler
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDispatcher(pool *worker.Pool, handler EventHandler, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, handler: handler, metrics: m, logger: logger}
}

// Dispatch validates and schedules e. The returned error only reports whether
// the event was accepted; delivery outcomes are logged by the handler.
func (d *Dispatcher) Dispatch(e domain.Event) error {
	t, ok := domain.ParseEventType(string(e.Type))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	e.Type = t

	err := d.pool.Submit(func(ctx context.Context) {
		if err := d.handler.Handle(ctx, e); err != nil {
			d.logger.Warn("event not handled", zap.String("event_id", e.ID), zap.String("type", string(e.Type)), zap.Error(err))
		}
	})
	if err != nil {
		d.metrics.ObserveDispatchRejected()
		d.logger.Error("event rejected by worker pool",
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Int("running", d.pool.Running()),
			zap.Error(err),
		)
		return fmt.Errorf("dispatch %s: %w", e.Type, err)
	}

	d.logger.Debug("event dispatched", zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
	return nil
}
