package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/testutil"
	"github.com/renewly/renewly/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service       BillingService
	subscriptions SubscriptionService
	invoices      InvoiceService
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := testServiceParams(&s.BaseServiceTestSuite)
	s.service = NewBillingService(params)
	s.subscriptions = NewSubscriptionService(params)
	s.invoices = NewInvoiceService(params)
	seedCatalog(&s.BaseServiceTestSuite)
}

func (s *BillingServiceSuite) newActiveSubscription(name string) string {
	created, err := s.subscriptions.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         name,
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
		AutoRenew:    true,
		ProductLines: []dto.AddProductLineRequest{
			{ProductID: testProductBasic, Quantity: 1},
		},
	})
	s.Require().NoError(err)
	_, err = s.subscriptions.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)
	return created.ID
}

func (s *BillingServiceSuite) listInvoices(subID string) []*dto.InvoiceResponse {
	filter := types.NewInvoiceFilter()
	filter.SubscriptionID = &subID
	resp, err := s.invoices.List(s.GetContext(), filter)
	s.Require().NoError(err)
	return resp.Items
}

func (s *BillingServiceSuite) TestGenerateDueInvoices() {
	subID := s.newActiveSubscription("Due")

	// First billing lands Feb 1
	s.GetClock().SetNow(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	resp, err := s.service.GenerateDueInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)
	s.Equal(0, resp.Failed)

	invoices := s.listInvoices(subID)
	s.Require().Len(invoices, 1)
	inv := invoices[0]
	s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), inv.PeriodStart)
	s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), inv.PeriodEnd)
	// The mock gateway approved the charge
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)

	// The billing date advanced one cycle
	sub, err := s.subscriptions.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Require().NotNil(sub.NextBillingDate)
	s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *sub.NextBillingDate)
	s.Require().NotNil(sub.LastBillingDate)
	s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *sub.LastBillingDate)
}

func (s *BillingServiceSuite) TestGenerateDueInvoicesIdempotent() {
	subID := s.newActiveSubscription("Due")
	s.GetClock().SetNow(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	_, err := s.service.GenerateDueInvoices(s.GetContext())
	s.Require().NoError(err)

	// A second run in the same instant finds nothing due
	resp, err := s.service.GenerateDueInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, resp.Processed)
	s.Len(s.listInvoices(subID), 1)
}

func (s *BillingServiceSuite) TestGenerateDueInvoicesDeclinedChargeStillCounts() {
	subID := s.newActiveSubscription("Declined")
	s.GetClock().SetNow(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.GetPaymentGateway().AlwaysFail = true

	resp, err := s.service.GenerateDueInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Succeeded)
	s.Equal(0, resp.Failed)

	// The invoice is raised and moves into the retry pipeline
	invoices := s.listInvoices(subID)
	s.Require().Len(invoices, 1)
	s.Equal(types.InvoiceStatusFailed, invoices[0].InvoiceStatus)
	s.NotNil(invoices[0].NextRetryDate)
}

func (s *BillingServiceSuite) TestGenerateDueInvoicesSkipsPausedAndTrialing() {
	pausedID := s.newActiveSubscription("Paused")
	_, err := s.subscriptions.Pause(s.GetContext(), pausedID, &dto.PauseSubscriptionRequest{})
	s.Require().NoError(err)

	s.GetClock().SetNow(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	resp, err := s.service.GenerateDueInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, resp.Processed)
	s.Empty(s.listInvoices(pausedID))
}

func (s *BillingServiceSuite) TestProcessPaymentRetriesCollectsWhenDue() {
	subID := s.newActiveSubscription("Retrying")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	_, err = s.invoices.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	// The retry is scheduled a day out; the sweep leaves it alone until then
	resp, err := s.service.ProcessPaymentRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, resp.Processed)

	s.GetClock().AdvanceDays(1)
	s.GetPaymentGateway().AlwaysFail = false

	resp, err = s.service.ProcessPaymentRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)

	updated, err := s.invoices.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, updated.InvoiceStatus)
	s.Equal(2, updated.PaymentAttempts)
}

func (s *BillingServiceSuite) TestProcessPaymentRetriesDeclineAdvancesSchedule() {
	subID := s.newActiveSubscription("Declining")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	_, err = s.invoices.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	// Another decline still counts as a processed retry and pushes the
	// schedule to the next delay
	s.GetClock().AdvanceDays(1)
	resp, err := s.service.ProcessPaymentRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)

	updated, err := s.invoices.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(2, updated.PaymentAttempts)
	s.Require().NotNil(updated.NextRetryDate)
	s.Equal(s.GetNow().AddDate(0, 0, types.PaymentRetryDelays[1]), *updated.NextRetryDate)
}

func (s *BillingServiceSuite) TestProcessPaymentRetriesLeavesExhaustedInvoices() {
	subID := s.newActiveSubscription("Exhausted")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	for attempt := 1; attempt <= types.MaxPaymentAttempts; attempt++ {
		_, err := s.invoices.AttemptPayment(s.GetContext(), inv.ID)
		s.Error(err)
	}

	// No retry date remains after the final attempt
	s.GetClock().AdvanceDays(30)
	resp, err := s.service.ProcessPaymentRetries(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, resp.Processed)
}

func (s *BillingServiceSuite) TestProcessDunningStartsOnOverdueInvoice() {
	subID := s.newActiveSubscription("Overdue")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	_, err = s.invoices.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	// Ten days past due
	s.GetClock().SetNow(inv.DueDate.AddDate(0, 0, 10))

	resp, err := s.service.ProcessDunning(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)

	updated, err := s.invoices.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.DunningStatusInProgress, updated.DunningStatus)
	s.Equal(0, updated.DunningLevel)
	s.Require().NotNil(updated.NextDunningDate)
	s.Equal(inv.DueDate.AddDate(0, 0, 3), *updated.NextDunningDate)
}

func (s *BillingServiceSuite) TestProcessDunningExhaustionCancelsSubscription() {
	subID := s.newActiveSubscription("Deadbeat")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	_, err = s.invoices.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	// Walk the whole schedule: start plus four escalations
	for _, daysPastDue := range []int{4, 8, 15, 22, 30} {
		s.GetClock().SetNow(inv.DueDate.AddDate(0, 0, daysPastDue))
		_, err := s.service.ProcessDunning(s.GetContext())
		s.Require().NoError(err)
	}

	updated, err := s.invoices.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.DunningStatusFailed, updated.DunningStatus)

	sub, err := s.subscriptions.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.Require().NotNil(sub.CancellationReason)
	s.Equal(types.CancellationReasonNonPayment, *sub.CancellationReason)
	s.Equal("dunning schedule exhausted", sub.CancellationNotes)
}

func (s *BillingServiceSuite) TestProcessDunningSkipsDisputed() {
	subID := s.newActiveSubscription("Disputed")
	inv, err := s.invoices.GenerateForSubscription(s.GetContext(), subID,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)

	s.GetPaymentGateway().AlwaysFail = true
	_, err = s.invoices.AttemptPayment(s.GetContext(), inv.ID)
	s.Error(err)

	_, err = s.invoices.DisputeInvoice(s.GetContext(), inv.ID, &dto.DisputeInvoiceRequest{
		Notes: "wrong amount",
	})
	s.Require().NoError(err)

	s.GetClock().SetNow(inv.DueDate.AddDate(0, 0, 10))

	resp, err := s.service.ProcessDunning(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Skipped)
	s.Equal(0, resp.Succeeded)

	updated, err := s.invoices.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.DunningStatusNotRequired, updated.DunningStatus)
}

func (s *BillingServiceSuite) TestProcessExpirations() {
	subID := s.newActiveSubscription("Ending")

	// Backdate the end date directly; auto renew is off for this one
	stores := s.GetStores()
	sub, err := stores.SubscriptionRepo.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	endDate := s.GetNow().AddDate(0, 0, -1)
	sub.EndDate = &endDate
	sub.AutoRenew = false
	s.Require().NoError(stores.SubscriptionRepo.Update(s.GetContext(), sub))

	resp, err := s.service.ProcessExpirations(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Processed)
	s.Equal(1, resp.Succeeded)

	expired, err := s.subscriptions.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusExpired, expired.SubscriptionStatus)
	s.Nil(expired.NextBillingDate)
	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, subID), types.EventTypeExpired)
}

func (s *BillingServiceSuite) TestProcessExpirationsSkipsAutoRenew() {
	subID := s.newActiveSubscription("Renewing")

	stores := s.GetStores()
	sub, err := stores.SubscriptionRepo.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	endDate := s.GetNow().AddDate(0, 0, -1)
	sub.EndDate = &endDate
	s.Require().NoError(stores.SubscriptionRepo.Update(s.GetContext(), sub))

	resp, err := s.service.ProcessExpirations(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resp.Skipped)
	s.Equal(0, resp.Succeeded)

	still, err := s.subscriptions.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, still.SubscriptionStatus)
}

func (s *BillingServiceSuite) TestClaimForBillingIsExclusive() {
	subID := s.newActiveSubscription("Contended")
	stores := s.GetStores()
	sub, err := stores.SubscriptionRepo.Get(s.GetContext(), subID)
	s.Require().NoError(err)
	s.Require().NotNil(sub.NextBillingDate)

	expected := *sub.NextBillingDate
	next := expected.AddDate(0, 1, 0)

	claimed, err := stores.SubscriptionRepo.ClaimForBilling(s.GetContext(), subID, expected, next)
	s.Require().NoError(err)
	s.True(claimed)

	// The second claim against the stale billing date loses
	claimed, err = stores.SubscriptionRepo.ClaimForBilling(s.GetContext(), subID, expected, next)
	s.Require().NoError(err)
	s.False(claimed)
}
