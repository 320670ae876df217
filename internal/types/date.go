package types

import (
	"time"

	ierr "github.com/renewly/renewly/internal/errors"
)

// NextBillingDate calculates the next billing date from the given anchor
// based on the billing cycle. Monthly, quarterly and annual cycles advance
// by calendar months/years; custom cycles advance by a fixed day count.
// When billingDayOfMonth is set, the result is pinned to that day of the
// month, clamped to the month's length (a day-31 anchor bills on Feb 28).
// If the computed date is not strictly after now, the calculation restarts
// from now so a stale anchor never yields a date in the past.
func NextBillingDate(from time.Time, cycle BillingCycle, billingDayOfMonth *int, customDays *int, now time.Time) (time.Time, error) {
	if err := cycle.Validate(); err != nil {
		return from, err
	}

	var next time.Time
	switch cycle {
	case BillingCycleMonthly:
		next = AddClampedDate(from, 0, 1, 0)
	case BillingCycleQuarterly:
		next = AddClampedDate(from, 0, 3, 0)
	case BillingCycleAnnual:
		next = AddClampedDate(from, 1, 0, 0)
	case BillingCycleCustom:
		next = AddClampedDate(from, 0, 0, cycle.Days(customDays))
	default:
		return from, ierr.NewError("invalid billing cycle").
			WithHint("Please provide a valid billing cycle").
			Mark(ierr.ErrValidation)
	}

	if cycle != BillingCycleCustom && billingDayOfMonth != nil {
		next = PinDayOfMonth(next, *billingDayOfMonth)
	}

	if !next.After(now) {
		return NextBillingDate(now, cycle, billingDayOfMonth, customDays, now)
	}
	return next, nil
}

// PinDayOfMonth moves t to the given day of its month, clamping to the
// last day when the month is shorter.
func PinDayOfMonth(t time.Time, day int) time.Time {
	if day < 1 {
		return t
	}
	lastDay := DaysInMonth(t.Year(), t.Month())
	if day > lastDay {
		day = lastDay
	}
	h, min, sec := t.Clock()
	return time.Date(t.Year(), t.Month(), day, h, min, sec, t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in the given month
func DaysInMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// AddClampedDate adds years, months and days to t. Unlike time.AddDate,
// month arithmetic clamps to the target month's length instead of
// overflowing, so Jan 31 + 1 month is Feb 28 rather than Mar 3.
func AddClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)

	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	lastDay := DaysInMonth(newY, newM)
	newD := d
	if newD > lastDay {
		newD = lastDay
	}

	result := time.Date(newY, newM, newD, h, min, sec, t.Nanosecond(), t.Location())
	if days != 0 {
		result = result.AddDate(0, 0, days)
	}
	return result
}
