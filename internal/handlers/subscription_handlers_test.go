package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"shulpad/internal/models"
	"shulpad/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) ValidatePrice(ctx context.Context, merchantID, planType string, deviceCount int, promoCode string) (*services.PriceQuote, error) {
	args := m.Called(ctx, merchantID, planType, deviceCount, promoCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PriceQuote), args.Error(1)
}

func (m *MockSubscriptionService) Create(ctx context.Context, req *services.CreateSubscriptionParams) (*models.Subscription, *services.PriceQuote, error) {
	args := m.Called(ctx, req)
	var sub *models.Subscription
	var quote *services.PriceQuote
	if args.Get(0) != nil {
		sub = args.Get(0).(*models.Subscription)
	}
	if args.Get(1) != nil {
		quote = args.Get(1).(*services.PriceQuote)
	}
	return sub, quote, args.Error(2)
}

func (m *MockSubscriptionService) Cancel(ctx context.Context, merchantID string) (*services.CancelResult, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CancelResult), args.Error(1)
}

func (m *MockSubscriptionService) Status(ctx context.Context, merchantID string) (*services.StatusResult, error) {
	args := m.Called(ctx, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResult), args.Error(1)
}

func (m *MockSubscriptionService) UpdatePlan(ctx context.Context, req *services.UpdatePlanParams) (*models.Subscription, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

type SubscriptionHandlersTestSuite struct {
	suite.Suite
	service  *MockSubscriptionService
	handlers *SubscriptionHandlers
	echo     *echo.Echo
}

func (s *SubscriptionHandlersTestSuite) SetupTest() {
	s.service = new(MockSubscriptionService)
	s.handlers = NewSubscriptionHandlers(s.service)
	s.echo = echo.New()
}

func TestSubscriptionHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(SubscriptionHandlersTestSuite))
}

func (s *SubscriptionHandlersTestSuite) postJSON(path, body string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, s.echo.NewContext(req, rec)
}

func (s *SubscriptionHandlersTestSuite) TestValidatePriceDefaultsDeviceCount() {
	s.service.On("ValidatePrice", mock.Anything, "M1", "monthly", 1, "").
		Return(&services.PriceQuote{
			PlanType:          "monthly",
			DeviceCount:       1,
			FinalPriceCents:   4900,
			InitialTotalCents: 4900,
			Reason:            services.ReasonFullPrice,
		}, nil)

	rec, c := s.postJSON("/api/subscription/validate-price", `{"merchant_id":"M1","plan_type":"monthly"}`)
	err := s.handlers.ValidatePrice(c)

	s.Require().NoError(err)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"device_count":1`)
	s.service.AssertExpectations(s.T())
}

func (s *SubscriptionHandlersTestSuite) TestCreateDefaultsDeviceCount() {
	s.service.On("Create", mock.Anything, mock.MatchedBy(func(req *services.CreateSubscriptionParams) bool {
		return req.DeviceCount == 1
	})).Return(&models.Subscription{MerchantID: "M1"}, &services.PriceQuote{DeviceCount: 1}, nil)

	_, c := s.postJSON("/api/subscription/create", `{"merchant_id":"M1","plan_type":"monthly","customer_email":"owner@example.com"}`)
	err := s.handlers.Create(c)

	s.Require().NoError(err)
	s.service.AssertExpectations(s.T())
}

func (s *SubscriptionHandlersTestSuite) TestValidatePriceRejectsNegativeDeviceCount() {
	_, c := s.postJSON("/api/subscription/validate-price", `{"merchant_id":"M1","plan_type":"monthly","device_count":-2}`)
	err := s.handlers.ValidatePrice(c)

	var he *echo.HTTPError
	s.Require().ErrorAs(err, &he)
	s.Equal(http.StatusBadRequest, he.Code)
	s.service.AssertNotCalled(s.T(), "ValidatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *SubscriptionHandlersTestSuite) TestSquareClientErrorMirroredWithDetails() {
	s.service.On("Create", mock.Anything, mock.Anything).Return(nil, nil, &services.SquareError{
		StatusCode: http.StatusBadRequest,
		Errors: []services.SquareErrorDetail{
			{Category: "INVALID_REQUEST_ERROR", Code: "INVALID_CARD", Detail: "Card declined", Field: "card_id"},
		},
	})

	rec, c := s.postJSON("/api/subscription/create", `{"merchant_id":"M1","plan_type":"monthly","device_count":2}`)
	err := s.handlers.Create(c)

	s.Require().NoError(err)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "SQUARE_ERROR")
	s.Contains(rec.Body.String(), "INVALID_CARD")
	s.Contains(rec.Body.String(), "card_id")
}

func (s *SubscriptionHandlersTestSuite) TestSquareServerErrorIsBadGateway() {
	s.service.On("Create", mock.Anything, mock.Anything).Return(nil, nil, &services.SquareError{
		StatusCode: http.StatusServiceUnavailable,
		Transient:  true,
	})

	rec, c := s.postJSON("/api/subscription/create", `{"merchant_id":"M1","plan_type":"monthly","device_count":2}`)
	err := s.handlers.Create(c)

	s.Require().NoError(err)
	s.Equal(http.StatusBadGateway, rec.Code)
	s.Contains(rec.Body.String(), "SQUARE_ERROR")
}
