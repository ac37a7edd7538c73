package payments

import (
	"testing"
	"turnos/src/types"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubscriptionStatus(t *testing.T) {
	cases := map[string]types.SubscriptionStatus{
		"authorized":        types.SUBSCRIPTION_AUTHORIZED,
		"approved":          types.SUBSCRIPTION_AUTHORIZED,
		"active":            types.SUBSCRIPTION_AUTHORIZED,
		"paused":            types.SUBSCRIPTION_PAUSED,
		"suspended":         types.SUBSCRIPTION_PAUSED,
		"cancelled":         types.SUBSCRIPTION_CANCELED,
		"canceled":          types.SUBSCRIPTION_CANCELED,
		"cancelled_by_user": types.SUBSCRIPTION_CANCELED,
		"pending":           types.SUBSCRIPTION_PENDING,
		"whatever_else":     types.SUBSCRIPTION_PENDING,
		"":                  types.SUBSCRIPTION_PENDING,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSubscriptionStatus(in), in)
	}
}

func TestClassifySettlementNoDeposit(t *testing.T) {
	assert.Equal(t, SettlementFull, ClassifySettlement(nil, 1200))
	zero := int64(0)
	assert.Equal(t, SettlementFull, ClassifySettlement(&zero, 10))
}

func TestClassifySettlementToleranceBoundary(t *testing.T) {
	deposit := int64(50000) // 500.00

	assert.Equal(t, SettlementDeposit, ClassifySettlement(&deposit, 500.00))
	// within tolerance below
	assert.Equal(t, SettlementDeposit, ClassifySettlement(&deposit, 499.991))
	// exactly at tolerance above still matches
	assert.Equal(t, SettlementDeposit, ClassifySettlement(&deposit, 500.01))
	// beyond tolerance above is full settlement
	assert.Equal(t, SettlementFull, ClassifySettlement(&deposit, 500.02))
	// beyond tolerance below is a partial payment
	assert.Equal(t, SettlementPartial, ClassifySettlement(&deposit, 499.98))
}
