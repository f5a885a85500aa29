package handlers

import (
	"errors"
	"log"
	"net/http"

	"shulpad/internal/common"
	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// KioskSettingsHandlers handles HTTP requests for per-organization
// kiosk configuration.
type KioskSettingsHandlers struct {
	settingsRepo repositories.KioskSettingsRepository
}

func NewKioskSettingsHandlers(settingsRepo repositories.KioskSettingsRepository) *KioskSettingsHandlers {
	return &KioskSettingsHandlers{settingsRepo: settingsRepo}
}

// GetSettings handles GET /api/kiosk/settings/:organization_id.
func (h *KioskSettingsHandlers) GetSettings(c echo.Context) error {
	ctx := c.Request().Context()

	organizationID := c.Param("organization_id")
	if err := common.ValidateRequiredString(organizationID, "organization_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	settings, err := h.settingsRepo.GetByOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return common.SendNotFoundError(c, "Kiosk settings")
		}
		log.Printf("WARN: failed to load kiosk settings for %s: %v", organizationID, err)
		return common.SendServerError(c, "Failed to load kiosk settings")
	}
	return c.JSON(http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/kiosk/settings. Writing preset
// amounts queues them for the next catalog sync rather than touching
// Square inline.
func (h *KioskSettingsHandlers) UpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		OrganizationID          string  `json:"organization_id"`
		PresetAmounts           []int64 `json:"preset_amounts"`
		ProcessingFeeEnabled    bool    `json:"processing_fee_enabled"`
		ProcessingFeePercentage float64 `json:"processing_fee_percentage"`
		ProcessingFeeFixedCents int64   `json:"processing_fee_fixed_cents"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := common.ValidateRequiredString(req.OrganizationID, "organization_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := common.ValidatePresetAmounts(req.PresetAmounts); err != nil {
		return common.SendValidationError(c, "preset_amounts", err.Error())
	}
	if req.ProcessingFeePercentage < 0 || req.ProcessingFeePercentage > 10 {
		return common.SendValidationError(c, "processing_fee_percentage", "must be between 0 and 10")
	}
	if req.ProcessingFeeFixedCents < 0 {
		return common.SendValidationError(c, "processing_fee_fixed_cents", "cannot be negative")
	}

	settings := &models.KioskSettings{
		ID:                      uuid.New(),
		OrganizationID:          req.OrganizationID,
		PresetAmounts:           req.PresetAmounts,
		ProcessingFeeEnabled:    req.ProcessingFeeEnabled,
		ProcessingFeePercentage: req.ProcessingFeePercentage,
		ProcessingFeeFixedCents: req.ProcessingFeeFixedCents,
	}
	if err := h.settingsRepo.UpdatePresets(ctx, settings); err != nil {
		log.Printf("WARN: failed to update kiosk settings for %s: %v", req.OrganizationID, err)
		return common.SendServerError(c, "Failed to update kiosk settings")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"organization_id": req.OrganizationID,
		"pending_sync":    true,
	})
}
