package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

const pgUniqueViolation = "23505"

// PromoRepo is the Postgres promo ledger. The promo_codes row lock taken by
// Promo serializes every transaction on the same code.
type PromoRepo struct {
	db *sql.DB
}

func NewPromoRepo(db *sql.DB) *PromoRepo {
	return &PromoRepo{db: db}
}

func (r *PromoRepo) WithPromoTx(ctx context.Context, code, customerID string, fn func(tx PromoTx) error) error {
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

	if err := fn(&pgPromoTx{tx: tx, code: code, customerID: customerID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	committed = true
	return nil
}

type pgPromoTx struct {
	tx         *sql.Tx
	code       string
	customerID string
}

func (t *pgPromoTx) Promo(ctx context.Context) (models.PromoCode, bool, error) {
	query := `
		SELECT code, discount_rate, remaining_uses
		FROM promo_codes
		WHERE code = $1
		FOR UPDATE
	`
	var p models.PromoCode
	err := t.tx.QueryRowContext(ctx, query, t.code).Scan(&p.Code, &p.DiscountRate, &p.RemainingUses)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromoCode{}, false, nil
		}
		return models.PromoCode{}, false, fmt.Errorf("lock promo %s: %w", t.code, err)
	}
	return p, true, nil
}

func (t *pgPromoTx) Redemption(ctx context.Context) (models.PromoRedemption, bool, error) {
	query := `
		SELECT customer_id, code, order_id, redeemed_at
		FROM promo_redemptions
		WHERE customer_id = $1 AND code = $2
	`
	var red models.PromoRedemption
	err := t.tx.QueryRowContext(ctx, query, t.customerID, t.code).
		Scan(&red.CustomerID, &red.Code, &red.OrderID, &red.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromoRedemption{}, false, nil
		}
		return models.PromoRedemption{}, false, fmt.Errorf("read redemption: %w", err)
	}
	return red, true, nil
}

func (t *pgPromoTx) ApplyRedemption(ctx context.Context, red models.PromoRedemption) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET remaining_uses = remaining_uses - 1
		WHERE code = $1 AND remaining_uses > 0
	`, t.code)
	if err != nil {
		return fmt.Errorf("decrement promo: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("decrement promo: %w", err)
	} else if n != 1 {
		return fmt.Errorf("decrement promo %s: %w", t.code, ErrLedgerInvariant)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO promo_redemptions (customer_id, code, order_id, redeemed_at)
		VALUES ($1, $2, $3, $4)
	`, t.customerID, t.code, red.OrderID, red.Timestamp)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("insert redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
		}
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (t *pgPromoTx) RevertRedemption(ctx context.Context) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM promo_redemptions
		WHERE customer_id = $1 AND code = $2
	`, t.customerID, t.code)
	if err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete redemption: %w", err)
	} else if n != 1 {
		return fmt.Errorf("delete redemption %s/%s: %w", t.customerID, t.code, ErrLedgerInvariant)
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET remaining_uses = remaining_uses + 1
		WHERE code = $1
	`, t.code); err != nil {
		return fmt.Errorf("increment promo: %w", err)
	}
	return nil
}

func (r *PromoRepo) GetPromo(ctx context.Context, code string) (models.PromoCode, bool, error) {
	query := `
		SELECT code, discount_rate, remaining_uses
		FROM promo_codes
		WHERE code = $1
	`
	var p models.PromoCode
	err := r.db.QueryRowContext(ctx, query, code).Scan(&p.Code, &p.DiscountRate, &p.RemainingUses)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromoCode{}, false, nil
		}
		return models.PromoCode{}, false, err
	}
	return p, true, nil
}

func (r *PromoRepo) HasRedemption(ctx context.Context, customerID, code string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE customer_id = $1 AND code = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, customerID, code).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PromoRepo) ListPromos(ctx context.Context) ([]models.PromoCode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, discount_rate, remaining_uses FROM promo_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promos []models.PromoCode
	for rows.Next() {
		var p models.PromoCode
		if err := rows.Scan(&p.Code, &p.DiscountRate, &p.RemainingUses); err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

func (r *PromoRepo) UpsertPromo(ctx context.Context, p models.PromoCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, discount_rate, remaining_uses)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE
		SET discount_rate = EXCLUDED.discount_rate,
		    remaining_uses = EXCLUDED.remaining_uses
	`, p.Code, p.DiscountRate, p.RemainingUses)
	return err
}
