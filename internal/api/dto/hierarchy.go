package dto

import (
	"github.com/renewly/renewly/internal/validator"
)

type LinkSubscriptionRequest struct {
	ParentSubscriptionID string `json:"parent_subscription_id" validate:"required"`
}

func (r *LinkSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// HierarchyValidationResponse reports the structural health of one
// subscription's hierarchy placement.
type HierarchyValidationResponse struct {
	Valid   bool   `json:"valid"`
	Depth   int    `json:"depth"`
	Message string `json:"message,omitempty"`
}
