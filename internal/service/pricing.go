package service

import (
	"github.com/shopspring/decimal"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

func Subtotal(items []models.OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.LineTotal()
	}
	return total
}

// DiscountAmount is round(subtotal * rate), half away from zero.
func DiscountAmount(subtotal int64, rate float64) int64 {
	return decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(rate)).
		Round(0).
		IntPart()
}

func applyDiscount(o *models.Order, rate float64) {
	o.AppliedDiscountRate = rate
	o.DiscountAmount = DiscountAmount(o.Subtotal, rate)
	o.TotalAmount = o.Subtotal - o.DiscountAmount
}

// removeDiscount adds a cancelled redemption's discount back.
func removeDiscount(o *models.Order) {
	o.AppliedDiscountRate = 0
	o.DiscountAmount = 0
	o.TotalAmount = o.Subtotal
}

// FreeItemIndex picks the lowest-priced purchased item; ties go to the
// earlier line. It returns -1 when nothing was purchased.
func FreeItemIndex(items []models.OrderItem) int {
	idx := -1
	for i, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if idx == -1 || it.UnitPrice < items[idx].UnitPrice {
			idx = i
		}
	}
	return idx
}
