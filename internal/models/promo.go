package models

import (
	"strings"
	"time"
)

type PromoCode struct {
	Code          string  `json:"code" bson:"_id" yaml:"code"`
	DiscountRate  float64 `json:"discount_rate" bson:"discount_rate" yaml:"discount_rate"`
	RemainingUses int     `json:"remaining_uses" bson:"remaining_uses" yaml:"remaining_uses"`
}

// PromoRedemption is the single source of truth for "customer used code".
type PromoRedemption struct {
	CustomerID string    `json:"customer_id" bson:"customer_id"`
	Code       string    `json:"code" bson:"code"`
	OrderID    string    `json:"order_id" bson:"order_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// NormalizeCode makes promo codes case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
