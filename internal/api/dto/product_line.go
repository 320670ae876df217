package dto

import (
	"github.com/shopspring/decimal"

	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/validator"
)

type AddProductLineRequest struct {
	ProductID      string          `json:"product_id" validate:"required"`
	Quantity       int             `json:"quantity" validate:"required,min=1"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TrialDays      int             `json:"trial_days" validate:"min=0"`
	UsageLimit     *int            `json:"usage_limit,omitempty" validate:"omitempty,min=1"`

	// One-time lines (setup fees) bill on exactly one invoice
	OneTime bool `json:"one_time,omitempty"`
}

func (r *AddProductLineRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.DiscountAmount.IsNegative() {
		return ierr.NewError("discount amount cannot be negative").
			WithHint("Discount amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type UpdateProductLineRequest struct {
	Quantity       *int             `json:"quantity,omitempty" validate:"omitempty,min=1"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	UsageLimit     *int             `json:"usage_limit,omitempty" validate:"omitempty,min=1"`
}

func (r *UpdateProductLineRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.DiscountAmount != nil && r.DiscountAmount.IsNegative() {
		return ierr.NewError("discount amount cannot be negative").
			WithHint("Discount amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}
