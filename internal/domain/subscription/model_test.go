package subscription

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/renewly/renewly/internal/types"
)

func TestProductLineRecomputeTotal(t *testing.T) {
	line := &ProductLine{
		UnitPrice:      decimal.NewFromFloat(19.99),
		DiscountAmount: decimal.NewFromFloat(2.50),
		Quantity:       3,
	}
	line.RecomputeTotal()
	assert.True(t, line.TotalPrice.Equal(decimal.NewFromFloat(52.47)), "got %s", line.TotalPrice)

	// A discount larger than the unit price clamps to zero
	line.DiscountAmount = decimal.NewFromInt(25)
	line.RecomputeTotal()
	assert.True(t, line.TotalPrice.IsZero())
}

func TestProductLineIsRemoved(t *testing.T) {
	line := &ProductLine{}
	assert.False(t, line.IsRemoved())

	removal := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	line.RemovalDate = &removal
	assert.True(t, line.IsRemoved())
}

func TestRecomputeTotals(t *testing.T) {
	sub := &Subscription{
		DiscountAmount: decimal.NewFromInt(10),
		TaxPercentage:  decimal.NewFromInt(20),
	}
	lines := []*ProductLine{
		{TotalPrice: decimal.NewFromInt(60)},
		{TotalPrice: decimal.NewFromInt(50)},
	}
	sub.RecomputeTotals(lines)

	assert.True(t, sub.BaseAmount.Equal(decimal.NewFromInt(110)), "base %s", sub.BaseAmount)
	// tax = (110 - 10) * 20% = 20
	assert.True(t, sub.TaxAmount.Equal(decimal.NewFromInt(20)), "tax %s", sub.TaxAmount)
	// total = 110 - 10 + 20 = 120
	assert.True(t, sub.TotalAmount.Equal(decimal.NewFromInt(120)), "total %s", sub.TotalAmount)
}

func TestRecomputeTotalsSkipsRemovedLines(t *testing.T) {
	removal := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{}
	lines := []*ProductLine{
		{TotalPrice: decimal.NewFromInt(40)},
		{TotalPrice: decimal.NewFromInt(60), RemovalDate: &removal},
	}
	sub.RecomputeTotals(lines)
	assert.True(t, sub.BaseAmount.Equal(decimal.NewFromInt(40)))
	assert.True(t, sub.TotalAmount.Equal(decimal.NewFromInt(40)))
}

func TestRecomputeTotalsDiscountExceedsBase(t *testing.T) {
	sub := &Subscription{
		DiscountAmount: decimal.NewFromInt(50),
		TaxPercentage:  decimal.NewFromInt(10),
	}
	sub.RecomputeTotals([]*ProductLine{{TotalPrice: decimal.NewFromInt(30)}})

	// Nothing taxable when the discount swallows the base
	assert.True(t, sub.TaxAmount.IsZero())
	assert.True(t, sub.TotalAmount.Equal(decimal.NewFromInt(-20)))
}

func TestCanBePaused(t *testing.T) {
	sub := &Subscription{SubscriptionStatus: types.SubscriptionStatusActive}
	assert.True(t, sub.CanBePaused())

	// Children follow their parent and cannot pause on their own
	sub.ParentSubscriptionID = lo.ToPtr("subs_parent")
	assert.False(t, sub.CanBePaused())

	sub.ParentSubscriptionID = nil
	sub.SubscriptionStatus = types.SubscriptionStatusPaused
	assert.False(t, sub.CanBePaused())
}

func TestCanBeCancelled(t *testing.T) {
	for _, status := range []types.SubscriptionStatus{
		types.SubscriptionStatusPending,
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPaused,
	} {
		sub := &Subscription{SubscriptionStatus: status}
		assert.True(t, sub.CanBeCancelled(), "%s", status)
	}
	for _, status := range []types.SubscriptionStatus{
		types.SubscriptionStatusCancelled,
		types.SubscriptionStatusExpired,
	} {
		sub := &Subscription{SubscriptionStatus: status}
		assert.False(t, sub.CanBeCancelled(), "%s", status)
	}
}

func TestIsBillable(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)

	sub := &Subscription{
		SubscriptionStatus: types.SubscriptionStatusActive,
		NextBillingDate:    &due,
		BaseModel:          types.BaseModel{Status: types.StatusPublished},
	}
	assert.True(t, sub.IsBillable(now))

	// Paused subscriptions are skipped
	sub.SubscriptionStatus = types.SubscriptionStatusPaused
	assert.False(t, sub.IsBillable(now))
	sub.SubscriptionStatus = types.SubscriptionStatusActive

	// Future billing dates are skipped
	future := now.AddDate(0, 0, 5)
	sub.NextBillingDate = &future
	assert.False(t, sub.IsBillable(now))
	sub.NextBillingDate = &due

	// Trials defer billing
	trialEnd := now.AddDate(0, 0, 10)
	sub.TrialEndDate = &trialEnd
	assert.False(t, sub.IsBillable(now))
	sub.TrialEndDate = nil

	sub.Status = types.StatusDeleted
	assert.False(t, sub.IsBillable(now))
}

func TestEffectiveNoticePeriodDays(t *testing.T) {
	sub := &Subscription{}
	assert.Equal(t, types.DefaultNoticePeriodDays, sub.EffectiveNoticePeriodDays())

	sub.NoticePeriodDays = 14
	assert.Equal(t, 14, sub.EffectiveNoticePeriodDays())
}

func TestDaysInBillingCycle(t *testing.T) {
	sub := &Subscription{BillingCycle: types.BillingCycleMonthly}
	assert.Equal(t, 30, sub.DaysInBillingCycle())

	sub.BillingCycle = types.BillingCycleCustom
	sub.CustomCycleDays = lo.ToPtr(14)
	assert.Equal(t, 14, sub.DaysInBillingCycle())
}

func TestIsInTrial(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{}
	assert.False(t, sub.IsInTrial(now))

	trialEnd := now.AddDate(0, 0, 5)
	sub.TrialEndDate = &trialEnd
	assert.True(t, sub.IsInTrial(now))
	assert.False(t, sub.IsInTrial(trialEnd))
}
