package handlers

import (
	"log"
	"net/http"

	"shulpad/internal/common"
	"shulpad/internal/services"

	"github.com/labstack/echo/v4"
)

// ZmanimHandlers handles HTTP requests for candle lighting times.
type ZmanimHandlers struct {
	zmanimService services.ZmanimService
}

func NewZmanimHandlers(zmanimService services.ZmanimService) *ZmanimHandlers {
	return &ZmanimHandlers{zmanimService: zmanimService}
}

// Shabbos handles POST /api/zmanim/shabbos. The action field selects
// lookup by coordinates or by zip code.
func (h *ZmanimHandlers) Shabbos(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Action    string  `json:"action"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		ZipCode   string  `json:"zip_code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	switch req.Action {
	case "coordinates":
		if err := common.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		result, err := h.zmanimService.LookupByCoordinates(ctx, req.Latitude, req.Longitude)
		if err != nil {
			log.Printf("WARN: zmanim coordinate lookup failed: %v", err)
			return common.SendServerError(c, "Failed to look up times")
		}
		return c.JSON(http.StatusOK, result)

	case "zip":
		if err := common.ValidateZipCode(req.ZipCode); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		result, err := h.zmanimService.LookupByZip(ctx, req.ZipCode)
		if err != nil {
			log.Printf("WARN: zmanim zip lookup failed: %v", err)
			return common.SendServerError(c, "Failed to look up times")
		}
		return c.JSON(http.StatusOK, result)

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be 'coordinates' or 'zip'")
	}
}
