package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

type AccrualResult struct {
	FreeItemAwarded bool
	// BenefitIndex counts the free items granted to the customer so far,
	// starting at 1. Zero when nothing was awarded.
	BenefitIndex int
	NewBalance   int
}

// LoyaltyLedger keeps a per-customer points balance. Each accrual is one
// store transaction per customer, so concurrent completions never lose
// points.
type LoyaltyLedger struct {
	store  repository.LoyaltyStore
	retry  RetryPolicy
	logger *zap.Logger

	tracer trace.Tracer
	awards metric.Int64Counter
}

func NewLoyaltyLedger(store repository.LoyaltyStore, retry RetryPolicy, logger *zap.Logger) *LoyaltyLedger {
	return &LoyaltyLedger{
		store:  store,
		retry:  retry,
		logger: logger,
		tracer: tracer(),
		awards: counter("loyalty_free_items_total", "Free items awarded by the loyalty ledger."),
	}
}

// Accrue adds unitsEarned to the balance. Reaching threshold awards one
// free item and subtracts threshold. A threshold <= 0 disables awards.
func (l *LoyaltyLedger) Accrue(ctx context.Context, customerID string, unitsEarned, threshold int) (AccrualResult, error) {
	if l == nil {
		return AccrualResult{}, ErrLedgerUnavailable
	}
	ctx, span := l.tracer.Start(ctx, "loyalty.accrue", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.Int("loyalty.units", unitsEarned),
	))
	defer span.End()

	if unitsEarned < 0 {
		return AccrualResult{}, &ValidationError{Field: "units", Message: "must not be negative"}
	}

	res, err := retryTransient(ctx, l.retry, l.logger, "loyalty.accrue", func() (AccrualResult, error) {
		var out AccrualResult
		err := l.store.WithLoyaltyTx(ctx, customerID, func(tx repository.LoyaltyTx) error {
			acct, err := tx.Account(ctx)
			if err != nil {
				return err
			}
			acct.CustomerID = customerID
			acct.Points += unitsEarned
			if threshold > 0 && acct.Points >= threshold {
				acct.Points -= threshold
				acct.AwardsGranted++
				out.FreeItemAwarded = true
				out.BenefitIndex = acct.AwardsGranted
			}
			out.NewBalance = acct.Points
			return tx.SaveAccount(ctx, acct)
		})
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loyalty accrue failed")
		return AccrualResult{}, fmt.Errorf("accrue loyalty for %s: %w", customerID, err)
	}
	if res.FreeItemAwarded {
		l.awards.Add(ctx, 1)
	}
	l.logger.Info("loyalty accrued",
		zap.String("customer_id", customerID),
		zap.Int("units", unitsEarned),
		zap.Int("balance", res.NewBalance),
		zap.Bool("free_item", res.FreeItemAwarded),
	)
	return res, nil
}
