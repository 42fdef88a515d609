package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retrier redelivers notices queued for integration sinks.
type Retrier interface {
	RetryIntegrations(ctx context.Context) error
}

// StartNotificationWorker calls RetryIntegrations every interval until ctx is done.
// The returned channel is closed once the loop has exited.
func StartNotificationWorker(ctx context.Context, retrier Retrier, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if retrier == nil || interval <= 0 {
		close(done)
		return done
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := retrier.RetryIntegrations(ctx); err != nil {
					logger.Warn("integration retry failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}
