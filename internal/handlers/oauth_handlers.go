package handlers

import (
	"errors"
	"log"
	"net/http"

	"shulpad/internal/common"
	"shulpad/internal/services"

	"github.com/labstack/echo/v4"
)

// OAuthHandlers handles the Square OAuth connect flow.
type OAuthHandlers struct {
	oauthService services.OAuthService
	redirectURI  string
}

func NewOAuthHandlers(oauthService services.OAuthService, redirectURI string) *OAuthHandlers {
	return &OAuthHandlers{oauthService: oauthService, redirectURI: redirectURI}
}

// Connect handles GET /api/oauth/connect and redirects the merchant to
// Square's consent page.
func (h *OAuthHandlers) Connect(c echo.Context) error {
	authURL, err := h.oauthService.AuthorizeURL(h.redirectURI)
	if err != nil {
		log.Printf("WARN: failed to build authorize URL: %v", err)
		return common.SendServerError(c, "Failed to start Square connection")
	}
	return c.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /api/oauth/callback.
func (h *OAuthHandlers) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	if denied := c.QueryParam("error"); denied != "" {
		return common.SendClientError(c, "Square authorization was denied")
	}
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing code or state")
	}

	conn, err := h.oauthService.HandleCallback(ctx, code, state)
	if err != nil {
		if errors.Is(err, services.ErrInvalidState) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired state, restart the connection")
		}
		log.Printf("WARN: oauth callback failed: %v", err)
		return common.SendServerError(c, "Failed to complete Square connection")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"merchant_id": conn.MerchantID,
		"connected":   true,
	})
}

// Disconnect handles POST /api/oauth/disconnect.
func (h *OAuthHandlers) Disconnect(c echo.Context) error {
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

	if err := h.oauthService.Revoke(ctx, req.MerchantID); err != nil {
		log.Printf("WARN: disconnect for merchant %s failed: %v", req.MerchantID, err)
		return common.SendServerError(c, "Failed to disconnect merchant")
	}
	return c.JSON(http.StatusOK, map[string]any{"disconnected": true})
}
