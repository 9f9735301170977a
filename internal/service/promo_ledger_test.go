package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/cache"
	"github.com/Cheertaboi/storefront-order-service/internal/concurrency"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

func TestPromoLedger_WelcomeScenario(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "WELCOME10", 0.10, 1)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(ctx, "WELCOME10", "A", "order-1")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
	assert.Equal(t, 0.10, res.DiscountRate)

	res, err = ledger.Redeem(ctx, "WELCOME10", "A", "order-2")
	require.NoError(t, err)
	assert.Equal(t, PromoAlreadyUsed, res.Status)
	assert.Equal(t, "order-1", res.HolderOrderID)

	res, err = ledger.Redeem(ctx, "WELCOME10", "B", "order-3")
	require.NoError(t, err)
	assert.Equal(t, PromoLimitExhausted, res.Status)

	status, err := ledger.Cancel(ctx, "WELCOME10", "A")
	require.NoError(t, err)
	assert.Equal(t, CancelOK, status)
	assert.Equal(t, 1, remainingUses(t, store, "WELCOME10"))

	res, err = ledger.Redeem(ctx, "WELCOME10", "A", "order-4")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
	assert.Equal(t, 0.10, res.DiscountRate)
}

func TestPromoLedger_CodesAreCaseInsensitive(t *testing.T) {
	store := repository.NewMemoryStore()
	seedPromo(t, store, "SPRING", 0.2, 3)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(context.Background(), "  spring ", "A", "o1")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
	assert.Equal(t, 2, remainingUses(t, store, "SPRING"))
}

func TestPromoLedger_UnknownAndEmptyCodes(t *testing.T) {
	ledger := NewPromoLedger(repository.NewMemoryStore(), nil, fastRetry, zap.NewNop())

	for _, code := range []string{"", "NOPE"} {
		res, err := ledger.Redeem(context.Background(), code, "A", "o1")
		require.NoError(t, err)
		assert.Equal(t, PromoNotFound, res.Status, code)

		res, err = ledger.Check(context.Background(), code, "A")
		require.NoError(t, err)
		assert.Equal(t, PromoNotFound, res.Status, code)
	}
}

func TestPromoLedger_CancelTwice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "X", 0.1, 2)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	_, err := ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)

	first, err := ledger.Cancel(ctx, "X", "A")
	require.NoError(t, err)
	second, err := ledger.Cancel(ctx, "X", "A")
	require.NoError(t, err)

	assert.Equal(t, CancelOK, first)
	assert.Equal(t, CancelNotUsed, second)
	assert.Equal(t, 2, remainingUses(t, store, "X"))
}

func TestPromoLedger_CancelForOrderLeavesOtherOrdersRedemption(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "X", 0.1, 2)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	_, err := ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)

	status, err := ledger.CancelForOrder(ctx, "X", "A", "o2")
	require.NoError(t, err)
	assert.Equal(t, CancelNotUsed, status)
	assert.Equal(t, 1, store.RedemptionCount("X"))

	status, err = ledger.CancelForOrder(ctx, "X", "A", "o1")
	require.NoError(t, err)
	assert.Equal(t, CancelOK, status)
	assert.Equal(t, 0, store.RedemptionCount("X"))
}

func TestPromoLedger_CheckDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "X", 0.15, 1)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	res, err := ledger.Check(ctx, "x", "A")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
	assert.Equal(t, 0.15, res.DiscountRate)
	assert.Equal(t, 1, remainingUses(t, store, "X"))

	_, err = ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)
	res, err = ledger.Check(ctx, "X", "A")
	require.NoError(t, err)
	assert.Equal(t, PromoAlreadyUsed, res.Status)
	res, err = ledger.Check(ctx, "X", "B")
	require.NoError(t, err)
	assert.Equal(t, PromoLimitExhausted, res.Status)
}

func TestPromoLedger_ConcurrentRedeemNeverOversells(t *testing.T) {
	const uses, customers = 10, 64
	store := repository.NewMemoryStore()
	seedPromo(t, store, "RUSH", 0.1, uses)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	var ok, exhausted atomic.Int32
	concurrency.SimpleWorkerPool(context.Background(), customers, func(ctx context.Context, i int) {
		res, err := ledger.Redeem(ctx, "RUSH", fmt.Sprintf("c%d", i), fmt.Sprintf("o%d", i))
		if err != nil {
			return
		}
		switch res.Status {
		case PromoOK:
			ok.Add(1)
		case PromoLimitExhausted:
			exhausted.Add(1)
		}
	})

	assert.EqualValues(t, uses, ok.Load())
	assert.EqualValues(t, customers-uses, exhausted.Load())
	assert.Equal(t, 0, remainingUses(t, store, "RUSH"))
	assert.Equal(t, uses, store.RedemptionCount("RUSH"))
}

func TestPromoLedger_SameCustomerRacesRedeemOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	seedPromo(t, store, "ONCE", 0.1, 100)
	ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

	var ok atomic.Int32
	concurrency.SimpleWorkerPool(context.Background(), 16, func(ctx context.Context, i int) {
		res, err := ledger.Redeem(ctx, "ONCE", "same", fmt.Sprintf("o%d", i))
		if err == nil && res.Status == PromoOK {
			ok.Add(1)
		}
	})

	assert.EqualValues(t, 1, ok.Load())
	assert.Equal(t, 99, remainingUses(t, store, "ONCE"))
}

func TestPromoLedger_RetriesTransientFailures(t *testing.T) {
	mem := repository.NewMemoryStore()
	seedPromo(t, mem, "X", 0.1, 1)
	flaky := &flakyPromoStore{PromoStore: mem}
	flaky.failures.Store(2)
	ledger := NewPromoLedger(flaky, nil, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(context.Background(), "X", "A", "o1")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
	assert.Equal(t, 0, remainingUses(t, mem, "X"))
}

func TestPromoLedger_ConflictsHaveTheirOwnBudget(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	seedPromo(t, mem, "X", 0.1, 1)
	flaky := &flakyPromoStore{PromoStore: mem, err: repository.ErrTxConflict}
	// more lost races than MaxAttempts allows store failures
	flaky.failures.Store(10)
	ledger := NewPromoLedger(flaky, nil, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)

	flaky.failures.Store(100)
	res, err = ledger.Redeem(ctx, "X", "A", "o1")
	require.ErrorIs(t, err, repository.ErrTxConflict)
	assert.Equal(t, PromoTransientError, res.Status)
	assert.Equal(t, 0, remainingUses(t, mem, "X"))
}

func TestPromoLedger_ExhaustedRetriesReportTransient(t *testing.T) {
	mem := repository.NewMemoryStore()
	seedPromo(t, mem, "X", 0.1, 1)
	flaky := &flakyPromoStore{PromoStore: mem}
	flaky.failures.Store(100)
	ledger := NewPromoLedger(flaky, nil, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(context.Background(), "X", "A", "o1")
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, PromoTransientError, res.Status)
	assert.Equal(t, 1, remainingUses(t, mem, "X"))

	status, err := ledger.Cancel(context.Background(), "X", "A")
	require.Error(t, err)
	assert.Equal(t, CancelTransientError, status)
}

func TestPromoLedger_NilLedgerIsUnavailable(t *testing.T) {
	var ledger *PromoLedger

	res, err := ledger.Redeem(context.Background(), "X", "A", "o1")
	require.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Equal(t, PromoTransientError, res.Status)

	_, err = ledger.Check(context.Background(), "X", "A")
	require.ErrorIs(t, err, ErrLedgerUnavailable)
}

func TestPromoLedger_CacheShortCircuitsExhaustedCode(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "X", 0.1, 0)
	pc := cache.NewPromoCache(store, time.Minute, zap.NewNop())
	require.NoError(t, pc.Refresh(ctx))

	flaky := &flakyPromoStore{PromoStore: store}
	flaky.failures.Store(100)
	ledger := NewPromoLedger(flaky, pc, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)
	assert.Equal(t, PromoLimitExhausted, res.Status)

	res, err = ledger.Check(ctx, "MISSING", "A")
	require.NoError(t, err)
	assert.Equal(t, PromoNotFound, res.Status)
}

func TestPromoLedger_WelcomeScenarioWithFreshCache(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "WELCOME10", 0.10, 1)
	pc := cache.NewPromoCache(store, time.Minute, zap.NewNop())
	require.NoError(t, pc.Refresh(ctx))
	ledger := NewPromoLedger(store, pc, fastRetry, zap.NewNop())

	res, err := ledger.Redeem(ctx, "WELCOME10", "A", "order-1")
	require.NoError(t, err)
	require.Equal(t, PromoOK, res.Status)

	// the cache now shows the code exhausted; A still learns it holds it
	res, err = ledger.Redeem(ctx, "WELCOME10", "A", "order-1")
	require.NoError(t, err)
	assert.Equal(t, PromoAlreadyUsed, res.Status)
	assert.Equal(t, "order-1", res.HolderOrderID)
	assert.InDelta(t, 0.10, res.DiscountRate, 1e-9)

	res, err = ledger.Check(ctx, "WELCOME10", "A")
	require.NoError(t, err)
	assert.Equal(t, PromoAlreadyUsed, res.Status)

	res, err = ledger.Redeem(ctx, "WELCOME10", "B", "order-2")
	require.NoError(t, err)
	assert.Equal(t, PromoLimitExhausted, res.Status)

	res, err = ledger.Check(ctx, "WELCOME10", "B")
	require.NoError(t, err)
	assert.Equal(t, PromoLimitExhausted, res.Status)

	status, err := ledger.Cancel(ctx, "WELCOME10", "A")
	require.NoError(t, err)
	require.Equal(t, CancelOK, status)

	res, err = ledger.Redeem(ctx, "WELCOME10", "A", "order-3")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
}

func TestPromoLedger_CancelRefreshesCachedUses(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seedPromo(t, store, "X", 0.1, 1)
	pc := cache.NewPromoCache(store, time.Minute, zap.NewNop())
	require.NoError(t, pc.Refresh(ctx))
	ledger := NewPromoLedger(store, pc, fastRetry, zap.NewNop())

	_, err := ledger.Redeem(ctx, "X", "A", "o1")
	require.NoError(t, err)
	e, ok := pc.Get("X")
	require.True(t, ok)
	assert.Equal(t, 0, e.Promo.RemainingUses)

	_, err = ledger.Cancel(ctx, "X", "A")
	require.NoError(t, err)

	res, err := ledger.Redeem(ctx, "X", "B", "o2")
	require.NoError(t, err)
	assert.Equal(t, PromoOK, res.Status)
}

// Uses are conserved: remaining + live redemptions always equals the seeded
// count, and neither goes negative, for any interleaving of redeems and
// cancels.
func TestPromoLedger_UsesAreConserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("remaining + redemptions == initial", prop.ForAll(
		func(initial int, ops []int) bool {
			ctx := context.Background()
			store := repository.NewMemoryStore()
			if err := store.UpsertPromo(ctx, modelsPromo("P", initial)); err != nil {
				return false
			}
			ledger := NewPromoLedger(store, nil, fastRetry, zap.NewNop())

			var wg sync.WaitGroup
			for i, op := range ops {
				wg.Add(1)
				go func(i, op int) {
					defer wg.Done()
					customer := fmt.Sprintf("c%d", op%5)
					if op%3 == 0 {
						_, _ = ledger.Cancel(ctx, "P", customer)
						return
					}
					_, _ = ledger.Redeem(ctx, "P", customer, fmt.Sprintf("o%d", i))
				}(i, op)
			}
			wg.Wait()

			p, _, _ := store.GetPromo(ctx, "P")
			used := store.RedemptionCount("P")
			return p.RemainingUses >= 0 && used <= 5 && p.RemainingUses+used == initial
		},
		gen.IntRange(0, 6),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
