package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"shulpad/internal/common"
	"shulpad/internal/repositories"
	"shulpad/internal/services"

	"github.com/labstack/echo/v4"
)

// ReceiptHandlers handles HTTP requests for donation receipts.
type ReceiptHandlers struct {
	receiptService services.ReceiptService
}

func NewReceiptHandlers(receiptService services.ReceiptService) *ReceiptHandlers {
	return &ReceiptHandlers{receiptService: receiptService}
}

// Send handles POST /api/receipts/send. A rate-limited organization
// gets 429 with a retry_after hint in seconds.
func (h *ReceiptHandlers) Send(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		OrganizationID   string `json:"organization_id"`
		OrganizationName string `json:"organization_name"`
		DonorEmail       string `json:"donor_email"`
		DonorName        string `json:"donor_name"`
		AmountCents      int64  `json:"amount_cents"`
		DonationDate     string `json:"donation_date"`
		TaxID            string `json:"tax_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := common.ValidateRequiredString(req.OrganizationID, "organization_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := common.ValidateEmail(req.DonorEmail, "donor_email"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AmountCents <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount_cents must be positive")
	}
	if err := common.ValidateDateFormat(req.DonationDate, "donation_date"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	donationDate := time.Now()
	if req.DonationDate != "" {
		donationDate, _ = time.Parse("2006-01-02", req.DonationDate)
	}

	result, err := h.receiptService.Send(ctx, &services.SendReceiptParams{
		OrganizationID:   req.OrganizationID,
		OrganizationName: req.OrganizationName,
		DonorEmail:       req.DonorEmail,
		DonorName:        req.DonorName,
		AmountCents:      req.AmountCents,
		DonationDate:     donationDate,
		TaxID:            req.TaxID,
	})
	if err != nil {
		var rateErr *services.ErrReceiptRateLimited
		if errors.As(err, &rateErr) {
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "Too many receipt requests",
				"retry_after": int(rateErr.RetryAfter.Seconds()),
			})
		}
		log.Printf("WARN: receipt send for organization %s failed: %v", req.OrganizationID, err)
		return common.SendServerError(c, "Failed to send receipt")
	}

	// Delivery failures still return 200 with the receipt id; the
	// kiosk shows the donor a reference either way.
	return c.JSON(http.StatusOK, result)
}

// GetStatus handles GET /api/receipts/:receipt_id.
func (h *ReceiptHandlers) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()

	receiptID := c.Param("receipt_id")
	if err := common.ValidateRequiredString(receiptID, "receipt_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status, err := h.receiptService.GetStatus(ctx, receiptID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return common.SendNotFoundError(c, "Receipt")
		}
		log.Printf("WARN: receipt lookup %s failed: %v", receiptID, err)
		return common.SendServerError(c, "Failed to look up receipt")
	}
	return c.JSON(http.StatusOK, status)
}
