package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS promo_codes (
	code           TEXT PRIMARY KEY,
	discount_rate  DOUBLE PRECISION NOT NULL CHECK (discount_rate >= 0 AND discount_rate < 1),
	remaining_uses INTEGER NOT NULL CHECK (remaining_uses >= 0)
);

CREATE TABLE IF NOT EXISTS promo_redemptions (
	customer_id TEXT NOT NULL,
	code        TEXT NOT NULL REFERENCES promo_codes (code),
	order_id    TEXT NOT NULL,
	redeemed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (customer_id, code)
);

CREATE TABLE IF NOT EXISTS loyalty_accounts (
	customer_id    TEXT PRIMARY KEY,
	points         INTEGER NOT NULL CHECK (points >= 0),
	awards_granted INTEGER NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id           TEXT PRIMARY KEY,
	customer_id  TEXT NOT NULL,
	state        TEXT NOT NULL,
	promo_status TEXT NOT NULL,
	version      BIGINT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS orders_promo_status_idx ON orders (promo_status);

CREATE TABLE IF NOT EXISTS reviews (
	id             BIGSERIAL PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	order_id       TEXT NOT NULL,
	delivery_mode  TEXT NOT NULL,
	service_rating SMALLINT NOT NULL,
	food_rating    SMALLINT NOT NULL,
	tip_target     TEXT NOT NULL DEFAULT '',
	comment        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	finalized_at   TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the ledger, order and review tables if missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
