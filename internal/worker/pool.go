// Package worker runs background jobs for notification dispatch.
package worker

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue. Submit never
// blocks: when the queue is full the job runs on its own goroutine instead of being
// dropped.
type Pool struct {
	workers int
	jobs    chan func(context.Context)
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan func(context.Context), queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Jobs receive ctx's values, but its cancellation does not
// reach them: queued jobs are drained by Stop, which cancels their context afterwards.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(p.ctx, job)
			}
		}()
	}
}

// Submit queues job. After Stop the job runs on the caller's goroutine.
func (p *Pool) Submit(job func(context.Context)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || p.ctx == nil {
		p.run(context.Background(), job)
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("worker queue full; running job on overflow goroutine")
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(p.ctx, job)
		}()
	}
}

// Stop waits for queued and running jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) run(ctx context.Context, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	job(ctx)
}
