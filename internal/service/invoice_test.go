package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/invoice"
	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/testutil"
	"github.com/renewly/renewly/internal/types"
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service       InvoiceService
	subscriptions SubscriptionService
	lines         ProductLineService
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := testServiceParams(&s.BaseServiceTestSuite)
	s.service = NewInvoiceService(params)
	s.subscriptions = NewSubscriptionService(params)
	s.lines = NewProductLineService(params)
	seedCatalog(&s.BaseServiceTestSuite)
}

// newActiveSubscription creates and activates a monthly subscription
// with one basic product line.
func (s *InvoiceServiceSuite) newActiveSubscription(mutate func(req *dto.CreateSubscriptionRequest)) string {
	req := &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         "Acme Basic",
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
		AutoRenew:    true,
		ProductLines: []dto.AddProductLineRequest{
			{ProductID: testProductBasic, Quantity: 1},
		},
	}
	if mutate != nil {
		mutate(req)
	}
	created, err := s.subscriptions.Create(s.GetContext(), req)
	s.Require().NoError(err)
	_, err = s.subscriptions.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)
	return created.ID
}

func (s *InvoiceServiceSuite) generate(subID string) *invoice.Invoice {
	inv, err := s.service.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	return inv
}

func (s *InvoiceServiceSuite) TestGenerateForSubscription() {
	subID := s.newActiveSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.DiscountAmount = decimal.NewFromInt(5)
		req.TaxPercentage = decimal.NewFromInt(10)
	})

	inv := s.generate(subID)

	s.Equal(types.InvoiceStatusPending, inv.InvoiceStatus)
	s.NotEmpty(inv.InvoiceNumber)
	s.Equal(subID, inv.SubscriptionID)
	s.Equal(testAccountID, inv.AccountID)
	s.Equal(s.GetNow().AddDate(0, 0, types.DefaultPaymentTermDays), inv.DueDate)

	// subtotal 50, discount 5, tax 4.50, total 49.50
	s.True(inv.Subtotal.Equal(decimal.NewFromInt(50)), "subtotal %s", inv.Subtotal)
	s.True(inv.TaxAmount.Equal(decimal.NewFromFloat(4.5)), "tax %s", inv.TaxAmount)
	s.True(inv.TotalAmount.Equal(decimal.NewFromFloat(49.5)), "total %s", inv.TotalAmount)
	s.Require().Len(inv.LineItems, 1)
	s.False(inv.LineItems[0].IsProrated)

	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, subID), types.EventTypeInvoiceGenerated)
}

func (s *InvoiceServiceSuite) TestGenerateProratesMidCycleLine() {
	subID := s.newActiveSubscription(nil)

	// Addon joins halfway through the period
	s.GetClock().SetNow(time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	_, err := s.lines.Add(s.GetContext(), subID, &dto.AddProductLineRequest{
		ProductID: testProductAddon,
		Quantity:  2,
	})
	s.Require().NoError(err)

	inv := s.generate(subID)
	s.Require().Len(inv.LineItems, 2)

	var prorated *invoice.LineItem
	for _, item := range inv.LineItems {
		if item.IsProrated {
			prorated = item
		}
	}
	s.Require().NotNil(prorated)
	s.Contains(prorated.Description, "(prorated)")
	// 16 of 30 days of 40.00 is 21.33
	s.True(prorated.Amount.Equal(decimal.NewFromFloat(21.33)), "amount %s", prorated.Amount)
}

func (s *InvoiceServiceSuite) TestGenerateSnapshotsCustomerAndProduct() {
	subID := s.newActiveSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.TaxPercentage = decimal.NewFromInt(10)
	})

	inv := s.generate(subID)

	// Customer details are frozen onto the invoice at generation
	s.Equal("Acme Corp", inv.CustomerName)
	s.Equal("billing@acme.test", inv.CustomerEmail)
	s.Equal("1 Main St, Springfield", inv.BillingAddress)

	s.Require().Len(inv.LineItems, 1)
	item := inv.LineItems[0]
	s.Equal(testProductBasic, item.ProductID)
	s.Equal("BASIC-01", item.ProductSKU)
	s.True(item.TaxAmount.Equal(decimal.NewFromInt(5)), "tax %s", item.TaxAmount)
}

func (s *InvoiceServiceSuite) TestOneTimeLineBillsExactlyOnce() {
	subID := s.newActiveSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.ProductLines = []dto.AddProductLineRequest{
			{ProductID: testProductBasic, Quantity: 1},
			{ProductID: testProductAddon, Quantity: 1, OneTime: true},
		}
	})

	first := s.generate(subID)
	s.Require().Len(first.LineItems, 2)
	s.True(first.Subtotal.Equal(decimal.NewFromInt(70)), "subtotal %s", first.Subtotal)

	// The setup fee does not recur on the next period's invoice
	second, err := s.service.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Require().Len(second.LineItems, 1)
	s.Equal(testProductBasic, second.LineItems[0].ProductID)
	s.True(second.Subtotal.Equal(decimal.NewFromInt(50)), "subtotal %s", second.Subtotal)

	// The billed line carries its last billed date
	lines, err := s.lines.List(s.GetContext(), subID)
	s.Require().NoError(err)
	for _, line := range lines {
		if line.ProductID == testProductAddon {
			s.Require().NotNil(line.LastBilledDate)
			s.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *line.LastBilledDate)
		}
	}
}

func (s *InvoiceServiceSuite) TestBuildLineItemsSkipsDeletedLineWithoutRemovalDate() {
	subID := s.newActiveSubscription(nil)
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), subID)
	s.Require().NoError(err)

	active := &subscription.ProductLine{
		ID:             "line_active",
		SubscriptionID: subID,
		ProductID:      testProductBasic,
		ProductName:    "Basic Plan",
		ProductSKU:     "BASIC-01",
		UnitPrice:      decimal.NewFromInt(50),
		Quantity:       1,
		TotalPrice:     decimal.NewFromInt(50),
		AddedDate:      s.GetNow(),
		IsRecurring:    true,
		BaseModel:      types.BaseModel{Status: types.StatusPublished},
	}
	// Soft-deleted without a removal date ever being stamped
	ghost := &subscription.ProductLine{
		ID:             "line_ghost",
		SubscriptionID: subID,
		ProductID:      testProductAddon,
		ProductName:    "Support Addon",
		ProductSKU:     "ADDON-01",
		UnitPrice:      decimal.NewFromInt(20),
		Quantity:       1,
		TotalPrice:     decimal.NewFromInt(20),
		AddedDate:      s.GetNow(),
		IsRecurring:    true,
		BaseModel:      types.BaseModel{Status: types.StatusDeleted},
	}

	impl := s.service.(*invoiceService)
	items, billed, subtotal, err := impl.buildLineItems(s.GetContext(), sub,
		[]*subscription.ProductLine{active, ghost},
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		s.GetNow())
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Require().Len(billed, 1)
	s.Equal(testProductBasic, items[0].ProductID)
	s.True(subtotal.Equal(decimal.NewFromInt(50)))
}

func (s *InvoiceServiceSuite) TestGenerateSkipsLinesInTrial() {
	subID := s.newActiveSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.ProductLines = []dto.AddProductLineRequest{
			{ProductID: testProductBasic, Quantity: 1},
			{ProductID: testProductAddon, Quantity: 1, TrialDays: 60},
		}
	})

	inv := s.generate(subID)
	s.Require().Len(inv.LineItems, 1)
	s.True(inv.Subtotal.Equal(decimal.NewFromInt(50)))
}

func (s *InvoiceServiceSuite) TestGenerateNothingToInvoice() {
	created, err := s.subscriptions.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         "Empty",
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
	})
	s.Require().NoError(err)

	_, err = s.service.GenerateForSubscription(s.GetContext(), created.ID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestAttemptPaymentSucceeds() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	paid, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)
	s.True(paid.AmountPaid.Equal(paid.TotalAmount))
	s.True(paid.Balance().IsZero())
	s.Equal(1, paid.PaymentAttempts)
	s.NotNil(paid.PaidDate)
	s.Nil(paid.NextRetryDate)

	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, subID), types.EventTypePaymentSucceeded)
}

func (s *InvoiceServiceSuite) TestAttemptPaymentFailureSchedulesRetry() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	s.GetPaymentGateway().AlwaysFail = true

	failed, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsPaymentFailed(err))

	s.Equal(types.InvoiceStatusFailed, failed.InvoiceStatus)
	s.Equal(1, failed.PaymentAttempts)
	s.Equal("card declined", failed.LastPaymentError)
	s.Require().NotNil(failed.NextRetryDate)
	s.Equal(s.GetNow().AddDate(0, 0, types.PaymentRetryDelays[0]), *failed.NextRetryDate)

	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, subID), types.EventTypePaymentFailed)
}

func (s *InvoiceServiceSuite) TestRetriesExhaustRetrySchedule() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true

	var last *invoice.Invoice
	for attempt := 1; attempt <= types.MaxPaymentAttempts; attempt++ {
		result, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
		s.Error(err)
		last = result
	}

	s.Equal(types.MaxPaymentAttempts, last.PaymentAttempts)
	// No retry is scheduled after the final attempt
	s.Nil(last.NextRetryDate)
	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, subID), types.EventTypePaymentRetry)

	// The gateway is not charged again once attempts are used up
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestAttemptPaymentHonorsSubscriptionRetryCap() {
	subID := s.newActiveSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.MaxRetryAttempts = 2
	})
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true

	for attempt := 1; attempt <= 2; attempt++ {
		_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
		s.Error(err)
		s.True(ierr.IsPaymentFailed(err))
	}

	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestRetryAfterFailureCanSucceed() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().FailuresRemaining = 1

	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	paid, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)
	s.Equal(2, paid.PaymentAttempts)
}

func (s *InvoiceServiceSuite) TestAttemptPaymentOnPaidInvoiceRejected() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	_, err = s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestRecordManualPayment() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	partial, err := s.service.RecordManualPayment(s.GetContext(), inv.ID, &dto.RecordPaymentRequest{
		Amount: decimal.NewFromInt(20),
		Notes:  "wire transfer",
	})
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPending, partial.InvoiceStatus)
	s.True(partial.Balance().Equal(decimal.NewFromInt(30)))

	settled, err := s.service.RecordManualPayment(s.GetContext(), inv.ID, &dto.RecordPaymentRequest{
		Amount: decimal.NewFromInt(30),
	})
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, settled.InvoiceStatus)
	s.NotNil(settled.PaidDate)
}

func (s *InvoiceServiceSuite) TestRecordManualPaymentOverBalanceRejected() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	_, err := s.service.RecordManualPayment(s.GetContext(), inv.ID, &dto.RecordPaymentRequest{
		Amount: decimal.NewFromInt(500),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *InvoiceServiceSuite) TestRefundRequiresPaidInvoice() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	_, err := s.service.RefundInvoice(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidStateTransition(err))

	_, err = s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	refunded, err := s.service.RefundInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusRefunded, refunded.InvoiceStatus)
	s.Require().NotNil(refunded.RefundedDate)
	s.Equal(s.GetNow(), *refunded.RefundedDate)
}

func (s *InvoiceServiceSuite) TestCancelInvoiceStampsDate() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	cancelled, err := s.service.CancelInvoice(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusCancelled, cancelled.InvoiceStatus)
	s.Require().NotNil(cancelled.CancelledDate)
	s.Equal(s.GetNow(), *cancelled.CancelledDate)
}

func (s *InvoiceServiceSuite) TestDisputePausesCollection() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	disputed, err := s.service.DisputeInvoice(s.GetContext(), inv.ID, &dto.DisputeInvoiceRequest{
		Notes: "double billed",
	})
	s.Require().NoError(err)
	s.True(disputed.IsDisputed)
	s.Nil(disputed.NextRetryDate)
	s.Nil(disputed.NextDunningDate)

	_, err = s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestMarkSentIdempotent() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	sent, err := s.service.MarkSent(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.True(sent.IsSent)
	firstSentDate := *sent.SentDate

	s.GetClock().AdvanceDays(1)
	again, err := s.service.MarkSent(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(firstSentDate, *again.SentDate)
}

func (s *InvoiceServiceSuite) TestAdvanceDunningEscalation() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	dueDate := inv.DueDate

	// Ten days past due: dunning starts at level zero
	s.GetClock().SetNow(dueDate.AddDate(0, 0, 10))
	advanced, exhausted, err := s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.False(exhausted)
	s.Equal(types.DunningStatusInProgress, advanced.DunningStatus)
	s.Equal(0, advanced.DunningLevel)
	s.Require().NotNil(advanced.NextDunningDate)
	s.Equal(dueDate.AddDate(0, 0, 3), *advanced.NextDunningDate)

	// Each escalation moves to the next schedule entry
	advanced, exhausted, err = s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.False(exhausted)
	s.Equal(1, advanced.DunningLevel)
	s.Equal(dueDate.AddDate(0, 0, 7), *advanced.NextDunningDate)

	s.GetClock().SetNow(dueDate.AddDate(0, 0, 15))
	advanced, exhausted, err = s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.False(exhausted)
	s.Equal(2, advanced.DunningLevel)
	s.Equal(dueDate.AddDate(0, 0, 14), *advanced.NextDunningDate)

	s.GetClock().SetNow(dueDate.AddDate(0, 0, 22))
	advanced, exhausted, err = s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.False(exhausted)
	s.Equal(3, advanced.DunningLevel)
	s.Equal(dueDate.AddDate(0, 0, 21), *advanced.NextDunningDate)

	// The final escalation exhausts the schedule
	s.GetClock().SetNow(dueDate.AddDate(0, 0, 25))
	advanced, exhausted, err = s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.True(exhausted)
	s.Equal(types.DunningStatusFailed, advanced.DunningStatus)
	s.Nil(advanced.NextDunningDate)
}

func (s *InvoiceServiceSuite) TestAdvanceDunningNotEligible() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)

	// Not overdue and no failed attempts
	_, _, err := s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestAdvanceDunningBeforeNextDateIsNoop() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	s.GetClock().SetNow(inv.DueDate.AddDate(0, 0, 1))
	advanced, _, err := s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(0, advanced.DunningLevel)

	// Next escalation is not due yet
	again, exhausted, err := s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.False(exhausted)
	s.Equal(0, again.DunningLevel)
}

func (s *InvoiceServiceSuite) TestPaymentResolvesDunning() {
	subID := s.newActiveSubscription(nil)
	inv := s.generate(subID)
	s.GetPaymentGateway().AlwaysFail = true
	_, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	s.GetClock().SetNow(inv.DueDate.AddDate(0, 0, 10))
	_, _, err = s.service.AdvanceDunning(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = false
	paid, err := s.service.AttemptPayment(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.DunningStatusResolved, paid.DunningStatus)
	s.Nil(paid.NextDunningDate)
}
