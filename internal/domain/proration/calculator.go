package proration

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/renewly/renewly/internal/errors"
)

// Calculator computes day-based prorated charges. The cycle length is
// the nominal day count of the billing cycle, not the calendar length
// of the specific period.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Prorate returns the portion of a full-cycle amount covering the given
// number of days, rounded to two decimal places. Days are capped at the
// cycle length so a prorated charge never exceeds the full amount.
func (c *Calculator) Prorate(fullAmount decimal.Decimal, daysInCycle, days int) (decimal.Decimal, error) {
	if daysInCycle <= 0 {
		return decimal.Zero, ierr.NewError("days in cycle must be positive").
			WithHint("Billing cycle length must be a positive number of days").
			WithReportableDetails(map[string]any{
				"days_in_cycle": daysInCycle,
			}).
			Mark(ierr.ErrValidation)
	}
	if days <= 0 {
		return decimal.Zero, nil
	}
	if days >= daysInCycle {
		return fullAmount.Round(2), nil
	}

	daily := fullAmount.Div(decimal.NewFromInt(int64(daysInCycle)))
	return daily.Mul(decimal.NewFromInt(int64(days))).Round(2), nil
}

// ProrateRange prorates a full-cycle amount over the days between from
// and to. Partial days round up so the customer is never billed for a
// started day twice across adjacent ranges.
func (c *Calculator) ProrateRange(fullAmount decimal.Decimal, daysInCycle int, from, to time.Time) (decimal.Decimal, error) {
	if to.Before(from) {
		return decimal.Zero, ierr.NewError("range end before start").
			WithHint("Proration range end must not be before its start").
			Mark(ierr.ErrValidation)
	}
	days := int(math.Ceil(to.Sub(from).Hours() / 24))
	return c.Prorate(fullAmount, daysInCycle, days)
}
