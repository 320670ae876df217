package dto

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
	"github.com/renewly/renewly/internal/validator"
)

type CreateSubscriptionRequest struct {
	AccountID   string `json:"account_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`

	BillingCycle      types.BillingCycle `json:"billing_cycle" validate:"required"`
	CustomCycleDays   *int               `json:"custom_cycle_days,omitempty" validate:"omitempty,min=1"`
	BillingDayOfMonth *int               `json:"billing_day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	Currency          string             `json:"currency" validate:"required,len=3"`
	AutoRenew         bool               `json:"auto_renew"`

	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxPercentage  decimal.Decimal `json:"tax_percentage"`

	StartDate        *time.Time `json:"start_date,omitempty"`
	TrialDays        int        `json:"trial_days" validate:"min=0"`
	NoticePeriodDays int        `json:"notice_period_days" validate:"min=0"`
	MaxRetryAttempts int        `json:"max_retry_attempts" validate:"min=0"`

	PaymentProvider    string `json:"payment_provider,omitempty"`
	PaymentMethodType  string `json:"payment_method_type,omitempty"`
	PaymentMethodLast4 string `json:"payment_method_last4,omitempty" validate:"omitempty,len=4,numeric"`

	ParentSubscriptionID *string `json:"parent_subscription_id,omitempty"`

	ProductLines []AddProductLineRequest `json:"product_lines,omitempty" validate:"dive"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.BillingCycle.Validate(); err != nil {
		return err
	}
	if r.BillingCycle == types.BillingCycleCustom && r.CustomCycleDays == nil {
		return ierr.NewError("custom cycle requires custom_cycle_days").
			WithHint("Please provide custom_cycle_days for a custom billing cycle").
			Mark(ierr.ErrValidation)
	}
	if r.DiscountAmount.IsNegative() {
		return ierr.NewError("discount amount cannot be negative").
			WithHint("Discount amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if r.TaxPercentage.IsNegative() || r.TaxPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return ierr.NewError("tax percentage out of range").
			WithHint("Tax percentage must be between 0 and 100").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToSubscription builds a new pending subscription from the request
func (r *CreateSubscriptionRequest) ToSubscription(ctx context.Context, now time.Time) *subscription.Subscription {
	start := now
	if r.StartDate != nil {
		start = *r.StartDate
	}

	sub := &subscription.Subscription{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		AccountID:            r.AccountID,
		Name:                 r.Name,
		Description:          r.Description,
		SubscriptionStatus:   types.SubscriptionStatusPending,
		BillingCycle:         r.BillingCycle,
		CustomCycleDays:      r.CustomCycleDays,
		BillingDayOfMonth:    r.BillingDayOfMonth,
		Currency:             r.Currency,
		AutoRenew:            r.AutoRenew,
		BaseAmount:           decimal.Zero,
		DiscountAmount:       r.DiscountAmount,
		TaxPercentage:        r.TaxPercentage,
		TaxAmount:            decimal.Zero,
		TotalAmount:          decimal.Zero,
		StartDate:            start,
		TrialDays:            r.TrialDays,
		NoticePeriodDays:     r.NoticePeriodDays,
		MaxRetryAttempts:     r.MaxRetryAttempts,
		PaymentProvider:      r.PaymentProvider,
		PaymentMethodType:    r.PaymentMethodType,
		PaymentMethodLast4:   r.PaymentMethodLast4,
		ParentSubscriptionID: r.ParentSubscriptionID,
		BaseModel:            types.GetDefaultBaseModel(ctx, now),
	}

	if r.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, r.TrialDays)
		sub.TrialEndDate = &trialEnd
	}
	return sub
}

type UpdateSubscriptionRequest struct {
	Name              *string          `json:"name,omitempty"`
	Description       *string          `json:"description,omitempty"`
	BillingCycle      *types.BillingCycle `json:"billing_cycle,omitempty"`
	CustomCycleDays   *int             `json:"custom_cycle_days,omitempty" validate:"omitempty,min=1"`
	BillingDayOfMonth *int             `json:"billing_day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	AutoRenew         *bool            `json:"auto_renew,omitempty"`
	DiscountAmount    *decimal.Decimal `json:"discount_amount,omitempty"`
	TaxPercentage     *decimal.Decimal `json:"tax_percentage,omitempty"`
	NoticePeriodDays  *int             `json:"notice_period_days,omitempty" validate:"omitempty,min=0"`
}

func (r *UpdateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.BillingCycle != nil {
		if err := r.BillingCycle.Validate(); err != nil {
			return err
		}
	}
	if r.DiscountAmount != nil && r.DiscountAmount.IsNegative() {
		return ierr.NewError("discount amount cannot be negative").
			WithHint("Discount amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type PauseSubscriptionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CancelSubscriptionRequest struct {
	Reason         types.CancellationReason `json:"reason" validate:"required"`
	EffectiveDate  *time.Time               `json:"effective_date,omitempty"`
	Notes          string                   `json:"notes,omitempty"`
	Immediate      bool                     `json:"immediate,omitempty"`
	CancelChildren bool                     `json:"cancel_children,omitempty"`
}

func (r *CancelSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.Reason.Validate()
}

type SubscriptionResponse struct {
	*subscription.Subscription
	ProductLines []*subscription.ProductLine `json:"product_lines,omitempty"`
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionResponse `json:"items"`
	Total int                     `json:"total"`
}
