// Package worker runs fire-and-forget background tasks on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that has been shut down.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolOverload is returned when every worker is busy.
	ErrPoolOverload = ants.ErrPoolOverload
)

// Task receives the pool's service-lifetime context, never a request context.
type Task func(ctx context.Context)

type Pool struct {
	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewPool creates a pool of the given size. Submission never blocks the caller:
// when every worker is busy the task is rejected with ants.ErrPoolOverload.
func NewPool(size int, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(r interface{}) {
			logger.Error("worker panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		}),
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Pool{pool: p, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Submit schedules task and returns immediately.
func (p *Pool) Submit(task Task) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}
	err := p.pool.Submit(func() {
		if p.ctx.Err() != nil {
			p.logger.Debug("task skipped: pool shutting down")
			return
		}
		task(p.ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Shutdown waits up to timeout for running tasks, then cancels the service context.
func (p *Pool) Shutdown(timeout time.Duration) {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn("worker pool shutdown timeout", zap.Error(err))
	}
	p.cancel()
}
