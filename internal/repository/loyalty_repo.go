package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

type LoyaltyRepo struct {
	db *sql.DB
}

func NewLoyaltyRepo(db *sql.DB) *LoyaltyRepo {
	return &LoyaltyRepo{db: db}
}

// WithLoyaltyTx makes sure the account row exists, then hands fn a row
// locked for the rest of the transaction.
func (r *LoyaltyRepo) WithLoyaltyTx(ctx context.Context, customerID string, fn func(tx LoyaltyTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (customer_id, points, awards_granted)
		VALUES ($1, 0, 0)
		ON CONFLICT (customer_id) DO NOTHING
	`, customerID); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}

	if err := fn(&pgLoyaltyTx{tx: tx, customerID: customerID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	committed = true
	return nil
}

type pgLoyaltyTx struct {
	tx         *sql.Tx
	customerID string
}

func (t *pgLoyaltyTx) Account(ctx context.Context) (models.LoyaltyAccount, error) {
	query := `
		SELECT points, awards_granted
		FROM loyalty_accounts
		WHERE customer_id = $1
		FOR UPDATE
	`
	acc := models.LoyaltyAccount{CustomerID: t.customerID}
	if err := t.tx.QueryRowContext(ctx, query, t.customerID).Scan(&acc.Points, &acc.AwardsGranted); err != nil {
		return models.LoyaltyAccount{}, fmt.Errorf("lock account %s: %w", t.customerID, err)
	}
	return acc, nil
}

func (t *pgLoyaltyTx) SaveAccount(ctx context.Context, a models.LoyaltyAccount) error {
	if a.Points < 0 {
		return fmt.Errorf("save account %s: negative points: %w", t.customerID, ErrLedgerInvariant)
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE loyalty_accounts
		SET points = $2, awards_granted = $3, updated_at = NOW()
		WHERE customer_id = $1
	`, t.customerID, a.Points, a.AwardsGranted)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (r *LoyaltyRepo) GetAccount(ctx context.Context, customerID string) (models.LoyaltyAccount, error) {
	acc := models.LoyaltyAccount{CustomerID: customerID}
	err := r.db.QueryRowContext(ctx, `
		SELECT points, awards_granted FROM loyalty_accounts WHERE customer_id = $1
	`, customerID).Scan(&acc.Points, &acc.AwardsGranted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.LoyaltyAccount{}, err
	}
	return acc, nil
}
