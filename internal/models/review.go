package models

import "time"

type ReviewStep string

const (
	ReviewAwaitingServiceRating ReviewStep = "awaiting_service_rating"
	ReviewAwaitingFoodRating    ReviewStep = "awaiting_food_rating"
	ReviewAwaitingTipDecision   ReviewStep = "awaiting_tip_decision"
	ReviewAwaitingTipTarget     ReviewStep = "awaiting_tip_target"
	ReviewAwaitingComment       ReviewStep = "awaiting_comment"
	ReviewFinalized             ReviewStep = "finalized"
)

type ReviewSession struct {
	CustomerID    string       `json:"customer_id"`
	OrderID       string       `json:"order_id"`
	DeliveryMode  DeliveryMode `json:"delivery_mode"`
	Step          ReviewStep   `json:"step"`
	ServiceRating int          `json:"service_rating"`
	FoodRating    int          `json:"food_rating"`
	TipTarget     string       `json:"tip_target,omitempty"`
	Comment       string       `json:"comment,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	FinalizedAt   time.Time    `json:"finalized_at,omitempty"`
}

// AverageRating is the mean of the service and food ratings.
func (r *ReviewSession) AverageRating() float64 {
	return float64(r.ServiceRating+r.FoodRating) / 2
}
