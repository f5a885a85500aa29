package handlers

import (
	"log"
	"net/http"
	"strconv"

	"shulpad/internal/common"
	"shulpad/internal/repositories"

	"github.com/labstack/echo/v4"
)

// DonationHandlers handles HTTP requests for donation history.
type DonationHandlers struct {
	donationRepo repositories.DonationRepository
}

func NewDonationHandlers(donationRepo repositories.DonationRepository) *DonationHandlers {
	return &DonationHandlers{donationRepo: donationRepo}
}

// List handles GET /api/donations/:merchant_id with limit/offset query
// parameters.
func (h *DonationHandlers) List(c echo.Context) error {
	ctx := c.Request().Context()

	merchantID := c.Param("merchant_id")
	if err := common.ValidateRequiredString(merchantID, "merchant_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset, err := common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	donations, err := h.donationRepo.ListByMerchant(ctx, merchantID, limit, offset)
	if err != nil {
		log.Printf("WARN: failed to list donations for merchant %s: %v", merchantID, err)
		return common.SendServerError(c, "Failed to list donations")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"donations": donations,
		"limit":     limit,
		"offset":    offset,
	})
}
