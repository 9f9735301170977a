package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

// OrderRepo persists orders as JSONB documents with a version column for
// compare-and-swap updates. Orders are never deleted.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) CreateOrder(ctx context.Context, o *models.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, state, promo_status, version, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.CustomerID, o.State, o.PromoStatus, o.Version, payload, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var payload []byte
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT payload, version FROM orders WHERE id = $1`, id).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return decodeOrder(payload, version)
}

func (r *OrderRepo) CompareAndSwapOrder(ctx context.Context, o *models.Order, expectedVersion int64) error {
	next := o.Clone()
	next.Version = expectedVersion + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $3, promo_status = $4, version = $5, payload = $6, updated_at = $7
		WHERE id = $1 AND version = $2
	`, o.ID, expectedVersion, next.State, next.PromoStatus, next.Version, payload, next.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	o.Version = next.Version
	return nil
}

func (r *OrderRepo) ListOrdersByPromoStatus(ctx context.Context, status models.PromoStatus) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload, version FROM orders WHERE promo_status = $1 ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var payload []byte
		var version int64
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, err
		}
		o, err := decodeOrder(payload, version)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func decodeOrder(payload []byte, version int64) (*models.Order, error) {
	var o models.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	o.Version = version
	return &o, nil
}
