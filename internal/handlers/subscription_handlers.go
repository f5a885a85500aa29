package handlers

import (
	"errors"
	"log"
	"net/http"

	"shulpad/internal/common"
	"shulpad/internal/repositories"
	"shulpad/internal/services"

	"github.com/labstack/echo/v4"
)

// SubscriptionHandlers handles HTTP requests for the subscription
// lifecycle.
type SubscriptionHandlers struct {
	subscriptionService services.SubscriptionService
}

func NewSubscriptionHandlers(subscriptionService services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{subscriptionService: subscriptionService}
}

type subscriptionRequest struct {
	MerchantID    string `json:"merchant_id"`
	PlanType      string `json:"plan_type"`
	DeviceCount   int    `json:"device_count"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	SourceID      string `json:"source_id"`
	PromoCode     string `json:"promo_code"`
}

func (h *SubscriptionHandlers) validateSubscription(req *subscriptionRequest) error {
	if err := common.ValidateRequiredString(req.MerchantID, "merchant_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := common.ValidatePlanType(req.PlanType); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// An omitted device_count means a single kiosk.
	if req.DeviceCount == 0 {
		req.DeviceCount = 1
	}
	if err := common.ValidateDeviceCount(req.DeviceCount); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// ValidatePrice handles POST /api/subscription/validate-price. It is a
// pure preview; nothing is created.
func (h *SubscriptionHandlers) ValidatePrice(c echo.Context) error {
	ctx := c.Request().Context()

	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := h.validateSubscription(&req); err != nil {
		return err
	}

	quote, err := h.subscriptionService.ValidatePrice(ctx, req.MerchantID, req.PlanType, req.DeviceCount, req.PromoCode)
	if err != nil {
		return h.mapServiceError(c, err, "validate price")
	}
	return c.JSON(http.StatusOK, quote)
}

// Create handles POST /api/subscription/create.
func (h *SubscriptionHandlers) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := h.validateSubscription(&req); err != nil {
		return err
	}

	sub, quote, err := h.subscriptionService.Create(ctx, &services.CreateSubscriptionParams{
		MerchantID:    req.MerchantID,
		PlanType:      req.PlanType,
		DeviceCount:   req.DeviceCount,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		SourceID:      req.SourceID,
		PromoCode:     req.PromoCode,
	})
	if err != nil {
		return h.mapServiceError(c, err, "create subscription")
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"subscription": sub,
		"pricing":      quote,
	})
}

// Cancel handles POST /api/subscription/cancel. Cancelling an already
// pending cancellation is treated as success.
func (h *SubscriptionHandlers) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		MerchantID string `json:"merchant_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := common.ValidateRequiredString(req.MerchantID, "merchant_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.subscriptionService.Cancel(ctx, req.MerchantID)
	if err != nil {
		return h.mapServiceError(c, err, "cancel subscription")
	}
	return c.JSON(http.StatusOK, result)
}

// Status handles GET /api/subscription/status/:merchant_id. The
// response shape is a stable contract for the kiosk app; new fields may
// be added but existing ones never change meaning.
func (h *SubscriptionHandlers) Status(c echo.Context) error {
	ctx := c.Request().Context()

	merchantID := c.Param("merchant_id")
	if err := common.ValidateRequiredString(merchantID, "merchant_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.subscriptionService.Status(ctx, merchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// No subscription at all still gets a well-formed body so
			// the kiosk can render a signup prompt.
			return c.JSON(http.StatusOK, &services.StatusResult{
				CanUseKiosk:  false,
				UrgencyLevel: "info",
				StatusReason: "no_subscription",
				Message:      "No subscription found for this merchant.",
			})
		}
		return h.mapServiceError(c, err, "fetch subscription status")
	}
	return c.JSON(http.StatusOK, result)
}

// UpdatePlan handles POST /api/subscription/update.
func (h *SubscriptionHandlers) UpdatePlan(c echo.Context) error {
	ctx := c.Request().Context()

	var req subscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := h.validateSubscription(&req); err != nil {
		return err
	}

	sub, err := h.subscriptionService.UpdatePlan(ctx, &services.UpdatePlanParams{
		MerchantID:    req.MerchantID,
		PlanType:      req.PlanType,
		DeviceCount:   req.DeviceCount,
		CustomerEmail: req.CustomerEmail,
		SourceID:      req.SourceID,
	})
	if err != nil {
		return h.mapServiceError(c, err, "update subscription plan")
	}
	return c.JSON(http.StatusOK, map[string]any{"subscription": sub})
}

func (h *SubscriptionHandlers) mapServiceError(c echo.Context, err error, operation string) error {
	switch {
	case errors.Is(err, services.ErrNotConnected):
		return common.SendClientError(c, "Merchant is not connected to Square")
	case errors.Is(err, services.ErrInvalidPromo):
		return common.SendClientError(c, "Promo code is not valid")
	case errors.Is(err, services.ErrAlreadySubscribed):
		return c.JSON(http.StatusConflict, common.CreateErrorResponse("ALREADY_SUBSCRIBED", "Merchant already has an active subscription", nil))
	case errors.Is(err, repositories.ErrNotFound):
		return common.SendNotFoundError(c, "Subscription")
	case errors.Is(err, repositories.ErrPromoExhausted):
		return common.SendClientError(c, "Promo code has no uses remaining")
	}

	var sqErr *services.SquareError
	if errors.As(err, &sqErr) {
		log.Printf("WARN: square error during %s: %v", operation, err)
		// Client-caused Square rejections keep their status; everything
		// else surfaces as a bad gateway. The structured details pass
		// through so the kiosk can show Square's own message.
		status := http.StatusBadGateway
		if sqErr.StatusCode >= 400 && sqErr.StatusCode < 500 {
			status = sqErr.StatusCode
		}
		return c.JSON(status, struct {
			*common.ErrorResponse
			SquareErrors []services.SquareErrorDetail `json:"square_errors"`
		}{
			ErrorResponse: common.CreateErrorResponse("SQUARE_ERROR", "Square rejected the request", nil),
			SquareErrors:  sqErr.Errors,
		})
	}

	log.Printf("WARN: failed to %s: %v", operation, err)
	return common.SendServerError(c, "Failed to "+operation)
}
