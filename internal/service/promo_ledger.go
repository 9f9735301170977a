package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/cache"
	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

type PromoStatus int

const (
	PromoOK PromoStatus = iota
	PromoNotFound
	PromoAlreadyUsed
	PromoLimitExhausted
	PromoTransientError
)

func (s PromoStatus) String() string {
	switch s {
	case PromoOK:
		return "ok"
	case PromoNotFound:
		return "not_found"
	case PromoAlreadyUsed:
		return "already_used"
	case PromoLimitExhausted:
		return "limit_exhausted"
	case PromoTransientError:
		return "transient_error"
	}
	return "unknown"
}

type PromoResult struct {
	Status       PromoStatus
	DiscountRate float64
	// HolderOrderID is the order that owns an existing redemption. Only set
	// with PromoAlreadyUsed from Redeem.
	HolderOrderID string
}

type CancelStatus int

const (
	CancelOK CancelStatus = iota
	CancelNotUsed
	CancelTransientError
)

func (s CancelStatus) String() string {
	switch s {
	case CancelOK:
		return "ok"
	case CancelNotUsed:
		return "not_used"
	case CancelTransientError:
		return "transient_error"
	}
	return "unknown"
}

// PromoLedger owns promo codes and their per-customer redemption records.
// Every read-modify-write runs inside one store transaction keyed by code,
// so remaining uses never go negative and a customer redeems a code at most
// once, whatever the interleaving.
type PromoLedger struct {
	store  repository.PromoStore
	cache  *cache.PromoCache
	retry  RetryPolicy
	logger *zap.Logger
	now    func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewPromoLedger builds a ledger over store. promoCache may be nil. A nil
// *PromoLedger is a ledger in degraded mode: every call fails with
// ErrLedgerUnavailable.
func NewPromoLedger(store repository.PromoStore, promoCache *cache.PromoCache, retry RetryPolicy, logger *zap.Logger) *PromoLedger {
	return &PromoLedger{
		store:    store,
		cache:    promoCache,
		retry:    retry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   tracer(),
		outcomes: counter("promo_ledger_outcomes_total", "Promo ledger results by operation and status."),
	}
}

// Check reports whether the customer could redeem code right now, without
// mutating anything. It may answer from a fresh cache snapshot.
func (l *PromoLedger) Check(ctx context.Context, code, customerID string) (PromoResult, error) {
	if l == nil {
		return PromoResult{Status: PromoTransientError}, ErrLedgerUnavailable
	}
	code = models.NormalizeCode(code)
	ctx, span := l.tracer.Start(ctx, "promo.check", trace.WithAttributes(attribute.String("promo.code", code)))
	defer span.End()

	if code == "" {
		return l.record(ctx, "check", PromoResult{Status: PromoNotFound}), nil
	}
	if e, ok := l.cached(code); ok && !e.Exists {
		return l.record(ctx, "check", PromoResult{Status: PromoNotFound}), nil
	}
	if l.cachedExhausted(ctx, code, customerID) {
		return l.record(ctx, "check", PromoResult{Status: PromoLimitExhausted}), nil
	}

	res, err := retryTransient(ctx, l.retry, l.logger, "promo.check", func() (PromoResult, error) {
		p, found, err := l.store.GetPromo(ctx, code)
		if err != nil {
			return PromoResult{}, err
		}
		if !found {
			return PromoResult{Status: PromoNotFound}, nil
		}
		used, err := l.store.HasRedemption(ctx, customerID, code)
		if err != nil {
			return PromoResult{}, err
		}
		if used {
			return PromoResult{Status: PromoAlreadyUsed, DiscountRate: p.DiscountRate}, nil
		}
		if p.RemainingUses <= 0 {
			return PromoResult{Status: PromoLimitExhausted}, nil
		}
		return PromoResult{Status: PromoOK, DiscountRate: p.DiscountRate}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "promo check failed")
		l.logger.Error("promo check failed", zap.String("code", code), zap.String("customer_id", customerID), zap.Error(err))
		return l.record(ctx, "check", PromoResult{Status: PromoTransientError}), err
	}
	return l.record(ctx, "check", res), nil
}

// Redeem atomically consumes one use of code for customerID on behalf of
// orderID. Exactly one of any set of concurrent callers for the last use
// gets PromoOK.
func (l *PromoLedger) Redeem(ctx context.Context, code, customerID, orderID string) (PromoResult, error) {
	if l == nil {
		return PromoResult{Status: PromoTransientError}, ErrLedgerUnavailable
	}
	code = models.NormalizeCode(code)
	ctx, span := l.tracer.Start(ctx, "promo.redeem", trace.WithAttributes(
		attribute.String("promo.code", code),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if code == "" {
		return l.record(ctx, "redeem", PromoResult{Status: PromoNotFound}), nil
	}
	// A cancellation made by another instance can hide behind an exhausted
	// entry for at most the cache's staleness bound.
	if l.cachedExhausted(ctx, code, customerID) {
		return l.record(ctx, "redeem", PromoResult{Status: PromoLimitExhausted}), nil
	}

	var seen *models.PromoCode
	res, err := retryTransient(ctx, l.retry, l.logger, "promo.redeem", func() (PromoResult, error) {
		seen = nil
		var out PromoResult
		err := l.store.WithPromoTx(ctx, code, customerID, func(tx repository.PromoTx) error {
			// 1) code must exist
			p, found, err := tx.Promo(ctx)
			if err != nil {
				return err
			}
			if !found {
				out = PromoResult{Status: PromoNotFound}
				return nil
			}
			// 2) one redemption per customer
			r, used, err := tx.Redemption(ctx)
			if err != nil {
				return err
			}
			if used {
				out = PromoResult{Status: PromoAlreadyUsed, DiscountRate: p.DiscountRate, HolderOrderID: r.OrderID}
				return nil
			}
			// 3) uses left
			if p.RemainingUses <= 0 {
				out = PromoResult{Status: PromoLimitExhausted}
				seen = &p
				return nil
			}
			// 4) consume
			err = tx.ApplyRedemption(ctx, models.PromoRedemption{
				CustomerID: customerID,
				Code:       code,
				OrderID:    orderID,
				Timestamp:  l.now(),
			})
			if err != nil {
				return err
			}
			p.RemainingUses--
			seen = &p
			out = PromoResult{Status: PromoOK, DiscountRate: p.DiscountRate}
			return nil
		})
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "promo redeem failed")
		l.logger.Error("promo redeem failed",
			zap.String("code", code),
			zap.String("customer_id", customerID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return l.record(ctx, "redeem", PromoResult{Status: PromoTransientError}), err
	}
	if seen != nil && l.cache != nil {
		l.cache.Observe(*seen)
	}
	l.logger.Info("promo redeem",
		zap.String("code", code),
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Stringer("status", res.Status),
	)
	return l.record(ctx, "redeem", res), nil
}

// Cancel undoes the customer's redemption of code, whichever order made it.
// Cancelling twice yields CancelOK then CancelNotUsed.
func (l *PromoLedger) Cancel(ctx context.Context, code, customerID string) (CancelStatus, error) {
	return l.cancel(ctx, code, customerID, "")
}

// CancelForOrder is Cancel restricted to a redemption made by orderID; a
// redemption held by another order is reported as CancelNotUsed.
func (l *PromoLedger) CancelForOrder(ctx context.Context, code, customerID, orderID string) (CancelStatus, error) {
	return l.cancel(ctx, code, customerID, orderID)
}

func (l *PromoLedger) cancel(ctx context.Context, code, customerID, orderID string) (CancelStatus, error) {
	if l == nil {
		return CancelTransientError, ErrLedgerUnavailable
	}
	code = models.NormalizeCode(code)
	ctx, span := l.tracer.Start(ctx, "promo.cancel", trace.WithAttributes(attribute.String("promo.code", code)))
	defer span.End()

	if code == "" {
		return CancelNotUsed, nil
	}

	var seen *models.PromoCode
	status, err := retryTransient(ctx, l.retry, l.logger, "promo.cancel", func() (CancelStatus, error) {
		seen = nil
		out := CancelNotUsed
		err := l.store.WithPromoTx(ctx, code, customerID, func(tx repository.PromoTx) error {
			p, found, err := tx.Promo(ctx)
			if err != nil || !found {
				return err
			}
			r, used, err := tx.Redemption(ctx)
			if err != nil || !used {
				return err
			}
			if orderID != "" && r.OrderID != orderID {
				return nil
			}
			if err := tx.RevertRedemption(ctx); err != nil {
				return err
			}
			p.RemainingUses++
			seen = &p
			out = CancelOK
			return nil
		})
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "promo cancel failed")
		l.logger.Error("promo cancel failed",
			zap.String("code", code),
			zap.String("customer_id", customerID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		l.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", "cancel"),
			attribute.String("status", CancelTransientError.String()),
		))
		return CancelTransientError, err
	}
	if seen != nil && l.cache != nil {
		l.cache.Observe(*seen)
	}
	l.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", "cancel"),
		attribute.String("status", status.String()),
	))
	l.logger.Info("promo cancel",
		zap.String("code", code),
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Stringer("status", status),
	)
	return status, nil
}

// cachedExhausted reports whether a fresh snapshot shows code with no uses
// left and the customer holds no redemption of it. A holder always reaches
// the store so that it learns AlreadyUsed and the holding order.
func (l *PromoLedger) cachedExhausted(ctx context.Context, code, customerID string) bool {
	e, ok := l.cached(code)
	if !ok || !e.Exists || e.Promo.RemainingUses > 0 {
		return false
	}
	used, err := l.store.HasRedemption(ctx, customerID, code)
	return err == nil && !used
}

func (l *PromoLedger) cached(code string) (cache.Entry, bool) {
	if l.cache == nil {
		return cache.Entry{}, false
	}
	return l.cache.Get(code)
}

func (l *PromoLedger) record(ctx context.Context, op string, res PromoResult) PromoResult {
	l.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", res.Status.String()),
	))
	return res
}
