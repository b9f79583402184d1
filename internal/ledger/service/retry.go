package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pointledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts   = 3
	retryInitialInterval = 20 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

// RetryPolicy re-runs a whole ledger operation when the store reports a
// transaction conflict. Any other error stops at once.
type RetryPolicy struct {
	MaxAttempts uint
	Log         *zap.Logger
	Metrics     *obsmetrics.Metrics
}

func Retry[T any](ctx context.Context, policy RetryPolicy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = defaultMaxAttempts
	}
	log := policy.Log
	if log == nil {
		log = zap.NewNop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	var attempt uint
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		err = ledgerdomain.WrapStoreError(err)
		if !errors.Is(err, ledgerdomain.ErrTransactionConflict) {
			return result, backoff.Permanent(err)
		}
		if attempt < attempts {
			policy.Metrics.RecordTransactionRetry(ctx, operation)
			log.Debug("retrying ledger transaction",
				zap.String("operation", operation),
				zap.Uint("attempt", attempt),
				zap.Error(err),
			)
		}
		return result, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(attempts))
}
