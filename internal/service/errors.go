package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	apperrors "github.com/hgschmie/broccolai-tickets/pkg/util/errorutil"
)

// storageFailure passes domain errors through and turns everything else, timeouts
// included, into StorageUnavailable.
func storageFailure(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewStorageUnavailable(err)
}

func ticketKey(id int64) string {
	return "ticket:" + strconv.FormatInt(id, 10)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
