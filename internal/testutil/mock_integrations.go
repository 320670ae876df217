package testutil

import (
	"context"
	"sync"

	"github.com/renewly/renewly/internal/payment"
	"github.com/renewly/renewly/internal/types"
	"github.com/renewly/renewly/internal/webhook"
)

// MockPaymentGateway approves or declines charges per test setup
type MockPaymentGateway struct {
	mu sync.Mutex

	// FailuresRemaining declines the next N charges before approving
	FailuresRemaining int
	// AlwaysFail declines every charge
	AlwaysFail bool
	// FailureReason is returned on declined charges
	FailureReason string

	Charges []payment.ChargeRequest
}

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{FailureReason: "card declined"}
}

func (g *MockPaymentGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Charges = append(g.Charges, req)
	if g.AlwaysFail || g.FailuresRemaining > 0 {
		if g.FailuresRemaining > 0 {
			g.FailuresRemaining--
		}
		return &payment.ChargeResult{Succeeded: false, FailureReason: g.FailureReason}, nil
	}
	return &payment.ChargeResult{
		TransactionID: types.GenerateUUIDWithPrefix("txn"),
		Succeeded:     true,
	}, nil
}

// MockWebhookDispatcher records dispatched payloads
type MockWebhookDispatcher struct {
	mu sync.Mutex

	Disabled  bool
	FailNext  int
	Delivered []*webhook.Payload
}

func NewMockWebhookDispatcher() *MockWebhookDispatcher {
	return &MockWebhookDispatcher{}
}

func (d *MockWebhookDispatcher) Enabled() bool {
	return !d.Disabled
}

func (d *MockWebhookDispatcher) Dispatch(ctx context.Context, payload *webhook.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailNext > 0 {
		d.FailNext--
		return context.DeadlineExceeded
	}
	d.Delivered = append(d.Delivered, payload)
	return nil
}
