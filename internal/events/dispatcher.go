package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler handles a published event.
type Handler func(context.Context, LifecycleEvent) error

// Dispatcher allows event publication and subscription.
type Dispatcher interface {
	// Publish hands the event to subscribers. It does not wait for them.
	Publish(ctx context.Context, event LifecycleEvent) error
	Subscribe(kind Kind, handler Handler)
}

// Submitter runs jobs in the background.
type Submitter interface {
	Submit(job func(context.Context))
}

type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[Kind][]Handler
	jobs      Submitter
	logger    *zap.Logger
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers on jobs. With a nil
// Submitter handlers run on the publishing goroutine.
func NewInMemoryDispatcher(jobs Submitter, logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		listeners: make(map[Kind][]Handler),
		jobs:      jobs,
		logger:    logger,
	}
}

func (d *inMemoryDispatcher) Publish(ctx context.Context, event LifecycleEvent) error {
	d.mu.RLock()
	handlers := append([]Handler{}, d.listeners[event.Kind]...)
	d.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	run := func(ctx context.Context) {
		for _, handler := range handlers {
			if err := handler(ctx, event); err != nil {
				d.logger.Warn("event handler failed",
					zap.String("kind", string(event.Kind)),
					zap.Int64("ticket_id", event.Ticket.ID),
					zap.Error(err))
			}
		}
	}

	if d.jobs == nil {
		run(ctx)
		return nil
	}
	d.jobs.Submit(run)
	return nil
}

// Subscribe registers a handler for the given event kind.
func (d *inMemoryDispatcher) Subscribe(kind Kind, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[kind] = append(d.listeners[kind], handler)
}
