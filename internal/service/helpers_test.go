package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

var fastRetry = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxConflicts:    16,
}

var errStoreDown = errors.New("connection reset by peer")

type recordingNotifier struct {
	mu       sync.Mutex
	admin    []models.AdminNotification
	customer []models.CustomerNotification
	fail     int
}

func (n *recordingNotifier) NotifyAdmin(_ context.Context, a models.AdminNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail > 0 {
		n.fail--
		return errors.New("transport down")
	}
	n.admin = append(n.admin, a)
	return nil
}

func (n *recordingNotifier) NotifyCustomer(_ context.Context, c models.CustomerNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail > 0 {
		n.fail--
		return errors.New("transport down")
	}
	n.customer = append(n.customer, c)
	return nil
}

func (n *recordingNotifier) customerKinds() []models.CustomerNotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.CustomerNotificationKind, 0, len(n.customer))
	for _, c := range n.customer {
		out = append(out, c.Kind)
	}
	return out
}

func (n *recordingNotifier) lastCustomer() models.CustomerNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.customer) == 0 {
		return models.CustomerNotification{}
	}
	return n.customer[len(n.customer)-1]
}

// flakyPromoStore fails the next `failures` ledger calls with err, or with
// errStoreDown when err is nil.
type flakyPromoStore struct {
	repository.PromoStore
	failures atomic.Int32
	err      error
}

func (s *flakyPromoStore) failure() error {
	if s.err != nil {
		return s.err
	}
	return errStoreDown
}

func (s *flakyPromoStore) trip() bool {
	for {
		n := s.failures.Load()
		if n <= 0 {
			return false
		}
		if s.failures.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (s *flakyPromoStore) WithPromoTx(ctx context.Context, code, customerID string, fn func(tx repository.PromoTx) error) error {
	if s.trip() {
		return s.failure()
	}
	return s.PromoStore.WithPromoTx(ctx, code, customerID, fn)
}

func (s *flakyPromoStore) GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error) {
	if s.trip() {
		return models.PromoCode{}, false, s.failure()
	}
	return s.PromoStore.GetPromo(ctx, code)
}

func seedPromo(t *testing.T, store repository.PromoStore, code string, rate float64, uses int) {
	t.Helper()
	require.NoError(t, store.UpsertPromo(context.Background(), models.PromoCode{
		Code:          code,
		DiscountRate:  rate,
		RemainingUses: uses,
	}))
}

func remainingUses(t *testing.T, store repository.PromoStore, code string) int {
	t.Helper()
	p, found, err := store.GetPromo(context.Background(), code)
	require.NoError(t, err)
	require.True(t, found)
	return p.RemainingUses
}

type machineFixture struct {
	store    *repository.MemoryStore
	notifier *recordingNotifier
	promos   *PromoLedger
	loyalty  *LoyaltyLedger
	reviews  *ReviewFlow
	machine  *OrderMachine
}

func newMachineFixture(t *testing.T, promoStore repository.PromoStore) *machineFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	if promoStore == nil {
		promoStore = store
	}
	logger := zap.NewNop()
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, nil, logger)
	dispatcher.retryDelay = time.Millisecond

	f := &machineFixture{
		store:    store,
		notifier: notifier,
		promos:   NewPromoLedger(promoStore, nil, fastRetry, logger),
		loyalty:  NewLoyaltyLedger(store, fastRetry, logger),
	}
	f.reviews = NewReviewFlow(store, dispatcher, nil, logger)
	f.machine = NewOrderMachine(store, f.promos, f.loyalty, f.reviews, dispatcher,
		MachineConfig{LoyaltyThreshold: 5}, logger)
	return f
}

func pickupSubmission(customerID, promo string) models.OrderSubmission {
	return models.OrderSubmission{
		CustomerID:    customerID,
		CustomerName:  "Aru",
		Phone:         "+77000000000",
		DeliveryMode:  models.DeliveryPickup,
		PaymentMethod: "cash",
		PromoCode:     promo,
		Items: []models.SubmissionItem{
			{Name: "Latte", UnitPrice: 1500, Quantity: 2, Options: []string{"oat milk"}},
			{Name: "Cookie", UnitPrice: 500, Quantity: 1},
		},
	}
}

func deliverySubmission(customerID string) models.OrderSubmission {
	sub := pickupSubmission(customerID, "")
	sub.DeliveryMode = models.DeliveryDelivery
	sub.Address = "Abay 10, apt 5"
	return sub
}

func modelsPromo(code string, uses int) models.PromoCode {
	return models.PromoCode{Code: code, DiscountRate: 0.1, RemainingUses: uses}
}

// casFailingOrders fails the next `failures` order writes that match.
type casFailingOrders struct {
	repository.OrderStore
	match    func(o *models.Order) bool
	failures atomic.Int32
}

func (s *casFailingOrders) CompareAndSwapOrder(ctx context.Context, o *models.Order, expectedVersion int64) error {
	if s.match(o) && s.failures.Add(-1) >= 0 {
		return errStoreDown
	}
	return s.OrderStore.CompareAndSwapOrder(ctx, o, expectedVersion)
}

// failPromoWrite makes the next order write that sets status fail.
func (f *machineFixture) failPromoWrite(status models.PromoStatus) *casFailingOrders {
	orders := &casFailingOrders{
		OrderStore: f.store,
		match:      func(o *models.Order) bool { return o.PromoStatus == status },
	}
	orders.failures.Store(1)
	f.machine.orders = orders
	return orders
}
