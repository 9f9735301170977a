package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

// RetryPolicy bounds the retries done at the ledger boundary. Store failures
// count against MaxAttempts. Lost optimistic races (ErrTxConflict) have their
// own budget: under contention every round commits one caller, so a caller
// racing N others needs up to N conflict retries.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration

	MaxConflicts    int
	ConflictBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxConflicts:    64,
		ConflictBackoff: 2 * time.Millisecond,
	}
}

func retryTransient[T any](ctx context.Context, p RetryPolicy, logger *zap.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := retryConflicts(ctx, p, fn)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, repository.ErrLedgerInvariant) || errors.Is(err, repository.ErrTxConflict) {
			return v, backoff.Permanent(err)
		}
		logger.Warn("ledger operation failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxAttempts))
}

// retryConflicts reruns fn while it loses optimistic races, with a short
// jittered pause, up to p.MaxConflicts times.
func retryConflicts[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	for conflicts := 0; ; conflicts++ {
		v, err := fn()
		if !errors.Is(err, repository.ErrTxConflict) || conflicts >= p.MaxConflicts {
			return v, err
		}
		pause := p.ConflictBackoff
		if pause > 0 {
			pause += rand.N(pause)
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(pause):
		}
	}
}
