package repository

import (
	"context"
	"errors"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrVersionConflict = errors.New("order version conflict")
	// ErrTxConflict means an optimistic ledger transaction lost a race and
	// may be retried as is.
	ErrTxConflict = errors.New("ledger transaction conflict")
	// ErrLedgerInvariant is returned when a write would break a ledger
	// invariant (e.g. decrementing an exhausted code). The transaction is
	// rolled back.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

// PromoTx is one promo code plus one customer's redemption record, seen
// from inside a single atomic transaction. Writes become visible only when
// the surrounding WithPromoTx commits.
type PromoTx interface {
	Promo(ctx context.Context) (models.PromoCode, bool, error)
	Redemption(ctx context.Context) (models.PromoRedemption, bool, error)
	// ApplyRedemption decrements remaining uses and creates the record.
	ApplyRedemption(ctx context.Context, r models.PromoRedemption) error
	// RevertRedemption deletes the record and increments remaining uses.
	RevertRedemption(ctx context.Context) error
}

type PromoStore interface {
	WithPromoTx(ctx context.Context, code, customerID string, fn func(tx PromoTx) error) error
	GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error)
	HasRedemption(ctx context.Context, customerID, code string) (bool, error)
	ListPromos(ctx context.Context) ([]models.PromoCode, error)
	UpsertPromo(ctx context.Context, p models.PromoCode) error
}

type LoyaltyTx interface {
	// Account returns the stored account, or a zero balance account.
	Account(ctx context.Context) (models.LoyaltyAccount, error)
	SaveAccount(ctx context.Context, a models.LoyaltyAccount) error
}

type LoyaltyStore interface {
	WithLoyaltyTx(ctx context.Context, customerID string, fn func(tx LoyaltyTx) error) error
	GetAccount(ctx context.Context, customerID string) (models.LoyaltyAccount, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// CompareAndSwapOrder stores o only if the persisted version still equals
	// expectedVersion; o.Version is bumped on success.
	CompareAndSwapOrder(ctx context.Context, o *models.Order, expectedVersion int64) error
	ListOrdersByPromoStatus(ctx context.Context, status models.PromoStatus) ([]*models.Order, error)
}

type ReviewStore interface {
	SaveReview(ctx context.Context, r models.ReviewSession) error
}

// Ledger bundles the two stores the promo and loyalty ledgers need.
type Ledger interface {
	PromoStore
	LoyaltyStore
}
