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

// CatalogHandlers handles HTTP requests for catalog preset sync.
type CatalogHandlers struct {
	catalogService services.CatalogService
}

func NewCatalogHandlers(catalogService services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalogService: catalogService}
}

// SyncPresetAmounts handles POST /api/catalog/sync-preset-amounts.
// With an organization_id it syncs that organization; without one it
// sweeps every organization that has pending preset changes.
func (h *CatalogHandlers) SyncPresetAmounts(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		OrganizationID string `json:"organization_id"`
		ForceSync      bool   `json:"force_sync"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if req.OrganizationID != "" {
		result, err := h.catalogService.SyncOrganization(ctx, req.OrganizationID, req.ForceSync)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return common.SendNotFoundError(c, "Organization")
			}
			log.Printf("WARN: catalog sync for organization %s failed: %v", req.OrganizationID, err)
			return common.SendServerError(c, "Catalog sync failed")
		}
		return c.JSON(http.StatusOK, result)
	}

	results, err := h.catalogService.SyncAll(ctx, req.ForceSync)
	if err != nil {
		log.Printf("WARN: catalog sync-all failed: %v", err)
		return common.SendServerError(c, "Catalog sync failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// ListPresets handles GET /api/catalog/presets/:organization_id.
func (h *CatalogHandlers) ListPresets(c echo.Context) error {
	ctx := c.Request().Context()

	organizationID := c.Param("organization_id")
	if err := common.ValidateRequiredString(organizationID, "organization_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	presets, err := h.catalogService.ListPresets(ctx, organizationID)
	if err != nil {
		log.Printf("WARN: failed to list presets for organization %s: %v", organizationID, err)
		return common.SendServerError(c, "Failed to list presets")
	}
	return c.JSON(http.StatusOK, map[string]any{"presets": presets})
}
