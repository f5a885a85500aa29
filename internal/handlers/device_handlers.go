package handlers

import (
	"log"
	"net/http"

	"shulpad/internal/common"
	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// DeviceHandlers handles kiosk device registration.
type DeviceHandlers struct {
	deviceRepo repositories.DeviceRepository
}

func NewDeviceHandlers(deviceRepo repositories.DeviceRepository) *DeviceHandlers {
	return &DeviceHandlers{deviceRepo: deviceRepo}
}

// Register handles POST /api/devices/register.
func (h *DeviceHandlers) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		MerchantID string  `json:"merchant_id"`
		Label      *string `json:"label"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := common.ValidateRequiredString(req.MerchantID, "merchant_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	device := &models.Device{
		ID:         uuid.New(),
		MerchantID: req.MerchantID,
		Label:      req.Label,
	}
	if err := h.deviceRepo.Register(ctx, device); err != nil {
		log.Printf("WARN: device registration for merchant %s failed: %v", req.MerchantID, err)
		return common.SendServerError(c, "Failed to register device")
	}

	count, err := h.deviceRepo.CountActive(ctx, req.MerchantID)
	if err != nil {
		log.Printf("WARN: active device count for merchant %s failed: %v", req.MerchantID, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"device":       device,
		"active_count": count,
	})
}
