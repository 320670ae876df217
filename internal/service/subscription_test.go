package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/account"
	"github.com/renewly/renewly/internal/domain/events"
	"github.com/renewly/renewly/internal/domain/product"
	"github.com/renewly/renewly/internal/domain/proration"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/testutil"
	"github.com/renewly/renewly/internal/types"
)

const (
	testAccountID     = "acct_test"
	testProductBasic  = "prod_basic"
	testProductAddon  = "prod_addon"
	testProductLegacy = "prod_legacy"
)

// testServiceParams builds ServiceParams from the suite's in-memory
// stores and mocks.
func testServiceParams(base *testutil.BaseServiceTestSuite) ServiceParams {
	stores := base.GetStores()
	return ServiceParams{
		Logger:            base.GetLogger(),
		Config:            base.GetConfig(),
		DB:                base.GetDB(),
		Clock:             base.GetClock(),
		SubRepo:           stores.SubscriptionRepo,
		InvoiceRepo:       stores.InvoiceRepo,
		EventRepo:         stores.EventRepo,
		AccountRepo:       stores.AccountRepo,
		ProductRepo:       stores.ProductRepo,
		PaymentGateway:    base.GetPaymentGateway(),
		WebhookDispatcher: base.GetWebhookDispatcher(),
		Proration:         proration.NewCalculator(),
	}
}

// seedCatalog loads the account and products every suite works against
func seedCatalog(base *testutil.BaseServiceTestSuite) {
	ctx := base.GetContext()
	stores := base.GetStores()
	now := base.GetNow()

	accountStore := stores.AccountRepo.(*testutil.InMemoryAccountStore)
	base.NoError(accountStore.Add(ctx, &account.Account{
		ID:             testAccountID,
		Name:           "Acme Corp",
		Email:          "billing@acme.test",
		BillingAddress: "1 Main St, Springfield",
		Currency:       "USD",
		BaseModel: types.BaseModel{
			Status:    types.StatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}))

	productStore := stores.ProductRepo.(*testutil.InMemoryProductStore)
	products := []*product.Product{
		{ID: testProductBasic, Name: "Basic Plan", SKU: "BASIC-01", UnitPrice: decimal.NewFromInt(50), Currency: "USD"},
		{ID: testProductAddon, Name: "Support Addon", SKU: "ADDON-01", UnitPrice: decimal.NewFromInt(20), Currency: "USD"},
		{ID: testProductLegacy, Name: "Legacy Plan", SKU: "LEGACY-01", UnitPrice: decimal.NewFromInt(30), Currency: "USD"},
	}
	for _, prod := range products {
		prod.BaseModel = types.BaseModel{
			Status:    types.StatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	// The legacy plan is archived and not attachable
	products[2].Status = types.StatusArchived
	for _, prod := range products {
		base.NoError(productStore.Add(ctx, prod))
	}
}

func listEventsFor(base *testutil.BaseServiceTestSuite, subscriptionID string) []*events.SubscriptionEvent {
	filter := types.NewEventFilter()
	filter.SubscriptionID = &subscriptionID
	result, err := base.GetStores().EventRepo.List(base.GetContext(), filter)
	base.NoError(err)
	return result
}

func eventTypesFor(base *testutil.BaseServiceTestSuite, subscriptionID string) []types.SubscriptionEventType {
	return lo.Map(listEventsFor(base, subscriptionID), func(e *events.SubscriptionEvent, _ int) types.SubscriptionEventType {
		return e.EventType
	})
}

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewSubscriptionService(testServiceParams(&s.BaseServiceTestSuite))
	seedCatalog(&s.BaseServiceTestSuite)
}

func (s *SubscriptionServiceSuite) createSubscription(mutate func(req *dto.CreateSubscriptionRequest)) *dto.SubscriptionResponse {
	req := &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         "Acme Basic",
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
		AutoRenew:    true,
		ProductLines: []dto.AddProductLineRequest{
			{ProductID: testProductBasic, Quantity: 2},
		},
	}
	if mutate != nil {
		mutate(req)
	}
	resp, err := s.service.Create(s.GetContext(), req)
	s.Require().NoError(err)
	return resp
}

func (s *SubscriptionServiceSuite) TestCreateSubscription() {
	resp := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.DiscountAmount = decimal.NewFromInt(10)
		req.TaxPercentage = decimal.NewFromInt(10)
	})

	s.Equal(types.SubscriptionStatusPending, resp.SubscriptionStatus)
	s.Nil(resp.NextBillingDate)
	s.Len(resp.ProductLines, 1)

	// Snapshot fields come from the catalog at attach time
	line := resp.ProductLines[0]
	s.Equal("Basic Plan", line.ProductName)
	s.Equal("BASIC-01", line.ProductSKU)
	s.True(line.UnitPrice.Equal(decimal.NewFromInt(50)))
	s.True(line.TotalPrice.Equal(decimal.NewFromInt(100)))

	// base 100, taxable 90, tax 9, total 99
	s.True(resp.BaseAmount.Equal(decimal.NewFromInt(100)), "base %s", resp.BaseAmount)
	s.True(resp.TaxAmount.Equal(decimal.NewFromInt(9)), "tax %s", resp.TaxAmount)
	s.True(resp.TotalAmount.Equal(decimal.NewFromInt(99)), "total %s", resp.TotalAmount)

	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, resp.ID), types.EventTypeCreated)
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionWithTrial() {
	resp := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.TrialDays = 14
	})

	s.Require().NotNil(resp.TrialEndDate)
	s.Equal(s.GetNow().AddDate(0, 0, 14), *resp.TrialEndDate)
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionUnknownAccount() {
	req := &dto.CreateSubscriptionRequest{
		AccountID:    "acct_missing",
		Name:         "Ghost",
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
	}
	_, err := s.service.Create(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionCustomCycleRequiresDays() {
	req := &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         "Custom",
		BillingCycle: types.BillingCycleCustom,
		Currency:     "USD",
	}
	_, err := s.service.Create(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionUnavailableProduct() {
	req := &dto.CreateSubscriptionRequest{
		AccountID:    testAccountID,
		Name:         "Legacy",
		BillingCycle: types.BillingCycleMonthly,
		Currency:     "USD",
		ProductLines: []dto.AddProductLineRequest{
			{ProductID: testProductLegacy, Quantity: 1},
		},
	}
	_, err := s.service.Create(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestActivateSetsNextBillingDate() {
	created := s.createSubscription(nil)

	resp, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.Require().NotNil(resp.NextBillingDate)
	s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *resp.NextBillingDate)
	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, resp.ID), types.EventTypeActivated)
}

func (s *SubscriptionServiceSuite) TestActivateAnchorsAtTrialEnd() {
	created := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.TrialDays = 14
	})

	resp, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	// Trial ends Jan 15, first billing one cycle later
	s.Require().NotNil(resp.NextBillingDate)
	s.Equal(time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), *resp.NextBillingDate)
}

func (s *SubscriptionServiceSuite) TestActivateTwiceRejected() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	_, err = s.service.Activate(s.GetContext(), created.ID)
	s.Error(err)
	s.True(ierr.IsInvalidStateTransition(err))
}

func (s *SubscriptionServiceSuite) TestPauseAndResume() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	paused, err := s.service.Pause(s.GetContext(), created.ID, &dto.PauseSubscriptionRequest{Reason: "seasonal"})
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusPaused, paused.SubscriptionStatus)
	s.NotNil(paused.PausedAt)

	resumed, err := s.service.Resume(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, resumed.SubscriptionStatus)
	s.NotNil(resumed.ResumedAt)
}

func (s *SubscriptionServiceSuite) TestResumePushesStaleBillingDateForward() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	_, err = s.service.Pause(s.GetContext(), created.ID, &dto.PauseSubscriptionRequest{})
	s.Require().NoError(err)

	// The pause outlives the billing date
	s.GetClock().SetNow(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	resumed, err := s.service.Resume(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.Require().NotNil(resumed.NextBillingDate)
	s.True(resumed.NextBillingDate.After(s.GetNow()),
		"billing date %s must be after resume time %s", resumed.NextBillingDate, s.GetNow())
}

func (s *SubscriptionServiceSuite) TestPauseChildRejected() {
	parent := s.createSubscription(nil)
	child := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.Name = "Acme Child"
		req.ParentSubscriptionID = lo.ToPtr(parent.ID)
	})
	_, err := s.service.Activate(s.GetContext(), child.ID)
	s.Require().NoError(err)

	_, err = s.service.Pause(s.GetContext(), child.ID, &dto.PauseSubscriptionRequest{})
	s.Error(err)
	s.True(ierr.IsInvalidStateTransition(err))

	// Rejected transitions still leave an audit record
	recorded := listEventsFor(&s.BaseServiceTestSuite, child.ID)
	errorEvents := lo.Filter(recorded, func(e *events.SubscriptionEvent, _ int) bool {
		return e.IsError && e.EventType == types.EventTypePaused
	})
	s.Len(errorEvents, 1)
	s.Equal(types.EventSeverityError, errorEvents[0].Severity)
}

func (s *SubscriptionServiceSuite) TestCancelAppliesNoticePeriod() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	s.GetClock().SetNow(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	resp, err := s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason: types.CancellationReasonCustomerRequest,
	})
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusCancelled, resp.SubscriptionStatus)
	s.Require().NotNil(resp.CancellationEffectiveDate)
	// 30-day default notice from Jan 10 lands on Feb 9
	s.Equal(time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC), *resp.CancellationEffectiveDate)
	s.Require().NotNil(resp.EndDate)
	s.Equal(*resp.CancellationEffectiveDate, *resp.EndDate)
	s.Nil(resp.NextBillingDate)
	s.Require().NotNil(resp.CancellationReason)
	s.Equal(types.CancellationReasonCustomerRequest, *resp.CancellationReason)
}

func (s *SubscriptionServiceSuite) TestCancelWithExplicitEffectiveDate() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	effective := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	resp, err := s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason:        types.CancellationReasonOther,
		EffectiveDate: &effective,
		Notes:         "moving providers",
	})
	s.Require().NoError(err)
	s.Equal(effective, *resp.CancellationEffectiveDate)
	s.Equal("moving providers", resp.CancellationNotes)
}

func (s *SubscriptionServiceSuite) TestCancelRejectsPastEffectiveDate() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	past := s.GetNow().AddDate(0, 0, -1)
	_, err = s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason:        types.CancellationReasonOther,
		EffectiveDate: &past,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestCancelImmediateSkipsNoticePeriod() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	resp, err := s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason:    types.CancellationReasonCustomerRequest,
		Immediate: true,
	})
	s.Require().NoError(err)
	s.Require().NotNil(resp.CancellationEffectiveDate)
	s.Equal(s.GetNow(), *resp.CancellationEffectiveDate)
}

func (s *SubscriptionServiceSuite) TestCancelCascadesToChildren() {
	parent := s.createSubscription(nil)
	child := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.Name = "Acme Child"
		req.ParentSubscriptionID = lo.ToPtr(parent.ID)
	})
	_, err := s.service.Activate(s.GetContext(), child.ID)
	s.Require().NoError(err)

	_, err = s.service.Cancel(s.GetContext(), parent.ID, &dto.CancelSubscriptionRequest{
		Reason:         types.CancellationReasonCustomerRequest,
		CancelChildren: true,
	})
	s.Require().NoError(err)

	cancelled, err := s.service.Get(s.GetContext(), child.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, cancelled.SubscriptionStatus)
	s.Require().NotNil(cancelled.CancellationReason)
	s.Equal(types.CancellationReasonCustomerRequest, *cancelled.CancellationReason)
}

func (s *SubscriptionServiceSuite) TestCancelTerminalRejected() {
	created := s.createSubscription(nil)
	_, err := s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason: types.CancellationReasonCustomerRequest,
	})
	s.Require().NoError(err)

	_, err = s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason: types.CancellationReasonCustomerRequest,
	})
	s.Error(err)
	s.True(ierr.IsInvalidStateTransition(err))
}

func (s *SubscriptionServiceSuite) TestUpdateRecordsDowngrade() {
	created := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.TaxPercentage = decimal.NewFromInt(10)
	})

	// A new discount lowers the total
	_, err := s.service.Update(s.GetContext(), created.ID, &dto.UpdateSubscriptionRequest{
		DiscountAmount: lo.ToPtr(decimal.NewFromInt(20)),
	})
	s.Require().NoError(err)

	s.Contains(eventTypesFor(&s.BaseServiceTestSuite, created.ID), types.EventTypeDowngraded)
}

func (s *SubscriptionServiceSuite) TestUpdateAlwaysRecordsModification() {
	created := s.createSubscription(nil)

	// A rename leaves the total untouched but is still audited with
	// the full previous state.
	_, err := s.service.Update(s.GetContext(), created.ID, &dto.UpdateSubscriptionRequest{
		Name: lo.ToPtr("Acme Renamed"),
	})
	s.Require().NoError(err)

	recorded := listEventsFor(&s.BaseServiceTestSuite, created.ID)
	updates := lo.Filter(recorded, func(e *events.SubscriptionEvent, _ int) bool {
		return e.EventType == types.EventTypeUpdated
	})
	s.Require().Len(updates, 1)
	s.NotEmpty(updates[0].EventData)
	s.NotEmpty(updates[0].PreviousValues)
}

func (s *SubscriptionServiceSuite) TestUpdateBillingCycleRecomputesBillingDate() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	resp, err := s.service.Update(s.GetContext(), created.ID, &dto.UpdateSubscriptionRequest{
		BillingCycle: lo.ToPtr(types.BillingCycleQuarterly),
	})
	s.Require().NoError(err)

	// The schedule re-anchors at the change, not at the old monthly date
	s.Require().NotNil(resp.NextBillingDate)
	s.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), *resp.NextBillingDate)
}

func (s *SubscriptionServiceSuite) TestResumeAccumulatesPausedDays() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	_, err = s.service.Pause(s.GetContext(), created.ID, &dto.PauseSubscriptionRequest{})
	s.Require().NoError(err)

	s.GetClock().SetNow(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))
	resumed, err := s.service.Resume(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.Equal(10, resumed.TotalPausedDays)

	// A second pause adds to the running total
	_, err = s.service.Pause(s.GetContext(), created.ID, &dto.PauseSubscriptionRequest{})
	s.Require().NoError(err)
	s.GetClock().SetNow(time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC))
	resumed, err = s.service.Resume(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.Equal(15, resumed.TotalPausedDays)
}

func (s *SubscriptionServiceSuite) TestCreateStoresPaymentMethodSummary() {
	resp := s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.PaymentProvider = "stripe"
		req.PaymentMethodType = "card"
		req.PaymentMethodLast4 = "4242"
		req.MaxRetryAttempts = 2
	})

	s.Equal("stripe", resp.PaymentProvider)
	s.Equal("card", resp.PaymentMethodType)
	s.Equal("4242", resp.PaymentMethodLast4)
	s.Equal(2, resp.MaxRetryAttempts)
}

func (s *SubscriptionServiceSuite) TestUpdateTerminalRejected() {
	created := s.createSubscription(nil)
	_, err := s.service.Cancel(s.GetContext(), created.ID, &dto.CancelSubscriptionRequest{
		Reason: types.CancellationReasonCustomerRequest,
	})
	s.Require().NoError(err)

	_, err = s.service.Update(s.GetContext(), created.ID, &dto.UpdateSubscriptionRequest{
		Name: lo.ToPtr("Renamed"),
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestDeleteActiveRejected() {
	created := s.createSubscription(nil)
	_, err := s.service.Activate(s.GetContext(), created.ID)
	s.Require().NoError(err)

	err = s.service.Delete(s.GetContext(), created.ID)
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestDeleteWithChildrenRejected() {
	parent := s.createSubscription(nil)
	s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.Name = "Acme Child"
		req.ParentSubscriptionID = lo.ToPtr(parent.ID)
	})

	err := s.service.Delete(s.GetContext(), parent.ID)
	s.Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *SubscriptionServiceSuite) TestDeleteIsSoft() {
	created := s.createSubscription(nil)
	s.Require().NoError(s.service.Delete(s.GetContext(), created.ID))

	_, err := s.service.Get(s.GetContext(), created.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *SubscriptionServiceSuite) TestListFiltersByStatus() {
	first := s.createSubscription(nil)
	s.createSubscription(func(req *dto.CreateSubscriptionRequest) {
		req.Name = "Acme Second"
	})
	_, err := s.service.Activate(s.GetContext(), first.ID)
	s.Require().NoError(err)

	filter := types.NewSubscriptionFilter()
	filter.SubscriptionStatus = lo.ToPtr(types.SubscriptionStatusActive)
	resp, err := s.service.List(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Equal(1, resp.Total)
	s.Require().Len(resp.Items, 1)
	s.Equal(first.ID, resp.Items[0].ID)
}
