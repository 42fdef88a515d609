package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsEveryJob(t *testing.T) {
	pool := NewPool(3, 2, nil)
	pool.Start(context.Background())

	var ran atomic.Int32
	block := make(chan struct{})
	for i := 0; i < 20; i++ {
		pool.Submit(func(context.Context) {
			<-block
			ran.Add(1)
		})
	}
	close(block)
	pool.Stop()

	if ran.Load() != 20 {
		t.Fatalf("ran %d of 20 jobs", ran.Load())
	}
}

func TestSubmitDoesNotBlockWhenSaturated(t *testing.T) {
	pool := NewPool(1, 0, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			pool.Submit(func(context.Context) { <-block })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Submit blocked on a saturated pool")
	}
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	pool := NewPool(1, 4, nil)
	pool.Start(context.Background())

	var ok atomic.Bool
	pool.Submit(func(context.Context) { panic("boom") })
	pool.Submit(func(context.Context) { ok.Store(true) })
	pool.Stop()

	if !ok.Load() {
		t.Fatalf("job after panic did not run")
	}
}

func TestSubmitAfterStopRunsInline(t *testing.T) {
	pool := NewPool(1, 1, nil)
	pool.Start(context.Background())
	pool.Stop()

	ran := false
	pool.Submit(func(context.Context) { ran = true })
	if !ran {
		t.Fatalf("job submitted after Stop was lost")
	}
}

func TestStopDrainsJobsWithLiveContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, 4, nil)
	pool.Start(ctx)

	block := make(chan struct{})
	var mu sync.Mutex
	var errs []error
	for i := 0; i < 3; i++ {
		pool.Submit(func(jobCtx context.Context) {
			<-block
			mu.Lock()
			errs = append(errs, jobCtx.Err())
			mu.Unlock()
		})
	}
	cancel()
	close(block)
	pool.Stop()

	if len(errs) != 3 {
		t.Fatalf("ran %d of 3 jobs", len(errs))
	}
	for _, err := range errs {
		if err != nil {
			t.Fatalf("queued job saw cancelled context: %v", err)
		}
	}

	var late error
	pool.Submit(func(jobCtx context.Context) { late = jobCtx.Err() })
	if late != nil {
		t.Fatalf("job after Stop saw %v", late)
	}
}

type countingRetrier struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRetrier) RetryIntegrations(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func TestNotificationWorkerTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retrier := &countingRetrier{}
	done := StartNotificationWorker(ctx, retrier, 5*time.Millisecond, nil)

	deadline := time.After(time.Second)
	for {
		retrier.mu.Lock()
		calls := retrier.calls
		retrier.mu.Unlock()
		if calls >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
