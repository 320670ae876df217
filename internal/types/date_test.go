package types

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextBillingDate_Monthly(t *testing.T) {
	now := date(2024, 12, 15)

	next, err := NextBillingDate(date(2025, 1, 1), BillingCycleMonthly, nil, nil, now)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 1), next)
}

func TestNextBillingDate_MonthEndClamp(t *testing.T) {
	now := date(2025, 1, 15)

	// A day-31 anchor clamps to the last day of shorter months
	next, err := NextBillingDate(date(2025, 1, 31), BillingCycleMonthly, lo.ToPtr(31), nil, now)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 28), next)

	// Leap year February keeps day 29
	next, err = NextBillingDate(date(2024, 1, 31), BillingCycleMonthly, lo.ToPtr(31), nil, date(2024, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), next)
}

func TestNextBillingDate_PinsBillingDay(t *testing.T) {
	now := date(2025, 1, 1)

	next, err := NextBillingDate(date(2025, 1, 5), BillingCycleMonthly, lo.ToPtr(15), nil, now)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 15), next)
}

func TestNextBillingDate_Quarterly(t *testing.T) {
	next, err := NextBillingDate(date(2025, 1, 10), BillingCycleQuarterly, nil, nil, date(2025, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2025, 4, 10), next)
}

func TestNextBillingDate_Annual(t *testing.T) {
	next, err := NextBillingDate(date(2025, 3, 1), BillingCycleAnnual, nil, nil, date(2025, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2026, 3, 1), next)
}

func TestNextBillingDate_Custom(t *testing.T) {
	next, err := NextBillingDate(date(2025, 1, 1), BillingCycleCustom, nil, lo.ToPtr(45), date(2024, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 15), next)

	// Missing custom days falls back to 30
	next, err = NextBillingDate(date(2025, 1, 1), BillingCycleCustom, nil, nil, date(2024, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2025, 1, 31), next)
}

func TestNextBillingDate_AlwaysStrictlyFuture(t *testing.T) {
	// A stale anchor far in the past restarts from now
	now := date(2025, 6, 10)
	next, err := NextBillingDate(date(2024, 1, 1), BillingCycleMonthly, nil, nil, now)
	require.NoError(t, err)
	assert.True(t, next.After(now), "next billing date %s must be after now %s", next, now)
	assert.Equal(t, date(2025, 7, 10), next)
}

func TestNextBillingDate_InvalidCycle(t *testing.T) {
	_, err := NextBillingDate(date(2025, 1, 1), BillingCycle("weekly"), nil, nil, date(2025, 1, 1))
	assert.Error(t, err)
}

func TestAddClampedDate(t *testing.T) {
	// Jan 31 + 1 month clamps to Feb 28, never overflows to March
	assert.Equal(t, date(2025, 2, 28), AddClampedDate(date(2025, 1, 31), 0, 1, 0))
	// Year rollover
	assert.Equal(t, date(2026, 1, 30), AddClampedDate(date(2025, 11, 30), 0, 2, 0))
	// Plain day addition
	assert.Equal(t, date(2025, 2, 14), AddClampedDate(date(2025, 1, 31), 0, 0, 14))
	// Time of day is preserved
	in := time.Date(2025, 1, 31, 10, 30, 0, 0, time.UTC)
	out := AddClampedDate(in, 0, 1, 0)
	assert.Equal(t, 10, out.Hour())
	assert.Equal(t, 30, out.Minute())
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 31, DaysInMonth(2025, time.January))
	assert.Equal(t, 28, DaysInMonth(2025, time.February))
	assert.Equal(t, 29, DaysInMonth(2024, time.February))
	assert.Equal(t, 30, DaysInMonth(2025, time.April))
}
