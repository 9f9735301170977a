package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePromo(t *testing.T) {
	p, err := parsePromo("WELCOME10", map[string]string{"discount_rate": "0.1", "remaining_uses": "7"})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", p.Code)
	assert.InDelta(t, 0.1, p.DiscountRate, 1e-9)
	assert.Equal(t, 7, p.RemainingUses)

	_, err = parsePromo("X", map[string]string{"discount_rate": "ten", "remaining_uses": "7"})
	assert.ErrorContains(t, err, "discount_rate")

	_, err = parsePromo("X", map[string]string{"discount_rate": "0.1"})
	assert.ErrorContains(t, err, "remaining_uses")
}

func TestLedgerKeys(t *testing.T) {
	assert.Equal(t, "loyalty:c1", redisAccountKey("c1"))
	assert.NotEqual(t, redisRedemptionKey("c1", "A"), redisRedemptionKey("c2", "A"))
	assert.NotEqual(t, redisPromoKey("A"), redisRedemptionKey("", "A"))

	assert.NotEqual(t, mongoRedemptionID("c1", "AB"), mongoRedemptionID("c1A", "B"))
}
