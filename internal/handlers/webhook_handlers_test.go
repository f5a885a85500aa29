package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) UpsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventRepository) UpsertPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) UpsertOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) UpsertSubscriptionInvoice(ctx context.Context, invoice *models.SubscriptionInvoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockEventRepository) AppendSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) GetByMerchantID(ctx context.Context, merchantID string) (*models.SquareConnection, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SquareConnection), args.Error(1)
}

func (m *MockConnectionRepository) Upsert(ctx context.Context, conn *models.SquareConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) UpdateTokens(ctx context.Context, merchantID, accessToken, refreshToken string, expiresAt time.Time) error {
	args := m.Called(ctx, merchantID, accessToken, refreshToken, expiresAt)
	return args.Error(0)
}

func (m *MockConnectionRepository) Deactivate(ctx context.Context, merchantID string) error {
	args := m.Called(ctx, merchantID)
	return args.Error(0)
}

func (m *MockConnectionRepository) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.SquareConnection, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SquareConnection), args.Error(1)
}

type MockKioskSettingsRepository struct {
	mock.Mock
}

func (m *MockKioskSettingsRepository) GetByOrganization(ctx context.Context, organizationID string) (*models.KioskSettings, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.KioskSettings), args.Error(1)
}

func (m *MockKioskSettingsRepository) ListPendingSync(ctx context.Context) ([]*models.KioskSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.KioskSettings), args.Error(1)
}

func (m *MockKioskSettingsRepository) UpdatePresets(ctx context.Context, settings *models.KioskSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockKioskSettingsRepository) ClearCatalogParent(ctx context.Context, organizationID string) error {
	args := m.Called(ctx, organizationID)
	return args.Error(0)
}

func (m *MockKioskSettingsRepository) MarkSyncedTx(ctx context.Context, q repositories.DBTX, organizationID, catalogParentID string, syncedAt time.Time) error {
	args := m.Called(ctx, q, organizationID, catalogParentID, syncedAt)
	return args.Error(0)
}

func (m *MockKioskSettingsRepository) TouchCatalogSync(ctx context.Context, merchantID string, at time.Time) error {
	args := m.Called(ctx, merchantID, at)
	return args.Error(0)
}

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) GetLatestForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetCurrentForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) PersistCreate(ctx context.Context, sub *models.Subscription, promoCode *string) error {
	args := m.Called(ctx, sub, promoCode)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

type MockDonationRepository struct {
	mock.Mock
}

func (m *MockDonationRepository) CreateIfAbsent(ctx context.Context, donation *models.Donation) (bool, error) {
	args := m.Called(ctx, donation)
	return args.Bool(0), args.Error(1)
}

func (m *MockDonationRepository) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]*models.Donation, error) {
	args := m.Called(ctx, merchantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Donation), args.Error(1)
}

const (
	testSignatureKey    = "sig-key-123"
	testNotificationURL = "https://api.shulpad.com/api/webhooks/square"
)

type WebhookHandlersTestSuite struct {
	suite.Suite
	eventRepo        *MockEventRepository
	connectionRepo   *MockConnectionRepository
	settingsRepo     *MockKioskSettingsRepository
	subscriptionRepo *MockSubscriptionRepository
	donationRepo     *MockDonationRepository
	handlers         *WebhookHandlers
	echo             *echo.Echo
}

func (s *WebhookHandlersTestSuite) SetupTest() {
	s.eventRepo = new(MockEventRepository)
	s.connectionRepo = new(MockConnectionRepository)
	s.settingsRepo = new(MockKioskSettingsRepository)
	s.subscriptionRepo = new(MockSubscriptionRepository)
	s.donationRepo = new(MockDonationRepository)
	s.handlers = NewWebhookHandlers(
		s.eventRepo, s.connectionRepo, s.settingsRepo, s.subscriptionRepo, s.donationRepo,
		testSignatureKey, testNotificationURL,
	)
	s.echo = echo.New()
}

func signBody(key, notificationURL, body string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(notificationURL + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *WebhookHandlersTestSuite) post(body, signature string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/square", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("x-square-signature", signature)
	}
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	return rec, s.handlers.Receive(c)
}

func (s *WebhookHandlersTestSuite) TestRejectsBadSignature() {
	body := `{"event_id":"evt-1","type":"payment.updated","merchant_id":"M1"}`

	_, err := s.post(body, "bogus-signature")

	var he *echo.HTTPError
	s.Require().ErrorAs(err, &he)
	s.Equal(http.StatusUnauthorized, he.Code)
	s.eventRepo.AssertNotCalled(s.T(), "UpsertWebhookEvent", mock.Anything, mock.Anything)
}

func (s *WebhookHandlersTestSuite) TestAcceptsValidSignature() {
	body := `{"event_id":"evt-2","type":"oauth.authorization.revoked","merchant_id":"M1"}`
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.MatchedBy(func(e *models.WebhookEvent) bool {
		return e.EventID == "evt-2" && e.EventType == "oauth.authorization.revoked"
	})).Return(true, nil)
	s.connectionRepo.On("Deactivate", mock.Anything, "M1").Return(nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "processed")
	s.connectionRepo.AssertExpectations(s.T())
}

func (s *WebhookHandlersTestSuite) TestMissingKeyProceedsUnverified() {
	s.handlers = NewWebhookHandlers(
		s.eventRepo, s.connectionRepo, s.settingsRepo, s.subscriptionRepo, s.donationRepo,
		"", testNotificationURL,
	)
	body := `{"event_id":"evt-3","type":"catalog.version.updated","merchant_id":"M1"}`
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil)
	s.settingsRepo.On("TouchCatalogSync", mock.Anything, "M1", mock.Anything).Return(nil)

	rec, err := s.post(body, "")

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.settingsRepo.AssertExpectations(s.T())
}

func (s *WebhookHandlersTestSuite) TestReplaySkipsProcessing() {
	body := `{"event_id":"evt-4","type":"oauth.authorization.revoked","merchant_id":"M1"}`
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(false, nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "already_processed")
	s.connectionRepo.AssertNotCalled(s.T(), "Deactivate", mock.Anything, mock.Anything)
}

func (s *WebhookHandlersTestSuite) TestPaymentEventRecorded() {
	body := `{"event_id":"evt-5","type":"payment.updated","merchant_id":"M1",` +
		`"data":{"type":"payment","id":"PAY1","object":{"payment":{"id":"PAY1","status":"COMPLETED","amount_money":{"amount":1800}}}}}`
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil)
	s.eventRepo.On("UpsertPaymentEvent", mock.Anything, mock.MatchedBy(func(e *models.PaymentEvent) bool {
		return e.SquarePaymentID == "PAY1" && e.Status == "COMPLETED" && e.AmountCents == 1800
	})).Return(nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.eventRepo.AssertExpectations(s.T())
}

func (s *WebhookHandlersTestSuite) TestStaleSubscriptionWebhookIgnored() {
	body := `{"event_id":"evt-6","type":"subscription.updated","merchant_id":"M1",` +
		`"data":{"type":"subscription","id":"SUB-OLD","object":{"subscription":{"id":"SUB-OLD","status":"CANCELED"}}}}`
	currentID := "SUB-NEW"
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil)
	s.subscriptionRepo.On("GetLatestForMerchant", mock.Anything, "M1").Return(&models.Subscription{
		MerchantID:           "M1",
		SquareSubscriptionID: &currentID,
		Status:               models.SubscriptionStatusActive,
	}, nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.subscriptionRepo.AssertNotCalled(s.T(), "Update", mock.Anything, mock.Anything)
}

func (s *WebhookHandlersTestSuite) TestSubscriptionWebhookReconcilesStatus() {
	body := `{"event_id":"evt-7","type":"subscription.updated","merchant_id":"M1",` +
		`"data":{"type":"subscription","id":"SUB1","object":{"subscription":{"id":"SUB1","status":"CANCELED","charged_through_date":"2026-09-30"}}}}`
	subID := "SUB1"
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil)
	s.subscriptionRepo.On("GetLatestForMerchant", mock.Anything, "M1").Return(&models.Subscription{
		MerchantID:           "M1",
		SquareSubscriptionID: &subID,
		Status:               models.SubscriptionStatusActive,
	}, nil)
	s.subscriptionRepo.On("Update", mock.Anything, mock.MatchedBy(func(sub *models.Subscription) bool {
		return sub.Status == models.SubscriptionStatusCanceled &&
			sub.CurrentPeriodEnd != nil &&
			sub.CurrentPeriodEnd.Format("2006-01-02") == "2026-09-30"
	})).Return(nil)
	s.eventRepo.On("AppendSubscriptionEvent", mock.Anything, mock.MatchedBy(func(e *models.SubscriptionEvent) bool {
		return e.EventType == "webhook" && e.Detail != nil && *e.Detail == "subscription.updated"
	})).Return(nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.subscriptionRepo.AssertExpectations(s.T())
	s.eventRepo.AssertExpectations(s.T())
}

func (s *WebhookHandlersTestSuite) TestInvoicePaidRecordsDonationOnce() {
	body := `{"event_id":"evt-8","type":"invoice.payment_made","merchant_id":"M1",` +
		`"data":{"type":"invoice","id":"INV1","object":{"invoice":{"id":"INV1","subscription_id":"SUB1","status":"PAID",` +
		`"payment_requests":[{"total_completed_amount_money":{"amount":4900}},{"total_completed_amount_money":{"amount":1500}}]}}}}`
	s.eventRepo.On("UpsertWebhookEvent", mock.Anything, mock.Anything).Return(true, nil)
	s.eventRepo.On("UpsertSubscriptionInvoice", mock.Anything, mock.MatchedBy(func(inv *models.SubscriptionInvoice) bool {
		return inv.SquareInvoiceID == "INV1" && inv.AmountCents == 6400 && inv.Status == "PAID"
	})).Return(nil)
	s.donationRepo.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(d *models.Donation) bool {
		return d.Source == "subscription_invoice" && d.AmountCents == 6400 &&
			d.SquareObjectID != nil && *d.SquareObjectID == "INV1"
	})).Return(false, nil)

	rec, err := s.post(body, signBody(testSignatureKey, testNotificationURL, body))

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.donationRepo.AssertExpectations(s.T())
}

func TestWebhookHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(WebhookHandlersTestSuite))
}
