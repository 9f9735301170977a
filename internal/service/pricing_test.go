package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

func TestDiscountAmount(t *testing.T) {
	assert.Equal(t, int64(350), DiscountAmount(3500, 0.10))
	assert.Equal(t, int64(0), DiscountAmount(3500, 0))
	// 1234 * 0.15 = 185.1
	assert.Equal(t, int64(185), DiscountAmount(1234, 0.15))
	// 125.5 rounds half away from zero
	assert.Equal(t, int64(126), DiscountAmount(1255, 0.1))
}

func TestSubtotal(t *testing.T) {
	items := []models.OrderItem{
		{Name: "Latte", UnitPrice: 1500, Quantity: 2},
		{Name: "Cookie", UnitPrice: 500, Quantity: 1},
	}
	assert.Equal(t, int64(3500), Subtotal(items))
	assert.Equal(t, int64(0), Subtotal(nil))
}

func TestFreeItemIndex(t *testing.T) {
	items := []models.OrderItem{
		{Name: "Latte", UnitPrice: 1500, Quantity: 1},
		{Name: "Cookie", UnitPrice: 500, Quantity: 2},
		{Name: "Muffin", UnitPrice: 500, Quantity: 1},
	}
	assert.Equal(t, 1, FreeItemIndex(items))
	assert.Equal(t, -1, FreeItemIndex(nil))
	assert.Equal(t, -1, FreeItemIndex([]models.OrderItem{{Name: "x", UnitPrice: 1, Quantity: 0}}))
}
