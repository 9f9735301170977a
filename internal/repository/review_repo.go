package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

type ReviewRepo struct {
	db *sql.DB
}

func NewReviewRepo(db *sql.DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

func (r *ReviewRepo) SaveReview(ctx context.Context, rv models.ReviewSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reviews
		(customer_id, order_id, delivery_mode, service_rating, food_rating, tip_target, comment, created_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rv.CustomerID, rv.OrderID, rv.DeliveryMode, rv.ServiceRating, rv.FoodRating,
		rv.TipTarget, rv.Comment, rv.CreatedAt, rv.FinalizedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}
