package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
)

// oauthStateTTL bounds how long a connect link stays usable.
const oauthStateTTL = 10 * time.Minute

// oauthScopes is everything the kiosk backend needs: catalog writes for
// preset sync, subscriptions for billing, payments/orders/invoices for
// the webhook receiver.
var oauthScopes = []string{
	"MERCHANT_PROFILE_READ",
	"PAYMENTS_READ",
	"PAYMENTS_WRITE",
	"ORDERS_READ",
	"ITEMS_READ",
	"ITEMS_WRITE",
	"CUSTOMERS_WRITE",
	"SUBSCRIPTIONS_READ",
	"SUBSCRIPTIONS_WRITE",
	"INVOICES_READ",
}

var (
	ErrInvalidState = fmt.Errorf("invalid or expired oauth state")
)

// OAuthService drives the Square OAuth flow and keeps the stored
// connection tokens fresh.
type OAuthService interface {
	AuthorizeURL(redirectURI string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (*models.SquareConnection, error)
	RefreshConnection(ctx context.Context, conn *models.SquareConnection) error
	Revoke(ctx context.Context, merchantID string) error
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// StateSecret signs the state parameter. Falls back to the client
	// secret when empty.
	StateSecret string
	BaseURL     string
}

type oauthService struct {
	cfg      OAuthConfig
	connRepo repositories.ConnectionRepository
	http     *http.Client
}

type OAuthOption func(*oauthService)

func WithOAuthHTTPClient(c *http.Client) OAuthOption {
	return func(s *oauthService) {
		s.http = c
	}
}

func NewOAuthService(cfg OAuthConfig, connRepo repositories.ConnectionRepository, opts ...OAuthOption) OAuthService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://connect.squareup.com"
	}
	if cfg.StateSecret == "" {
		cfg.StateSecret = cfg.ClientSecret
	}
	s := &oauthService{
		cfg:      cfg,
		connRepo: connRepo,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthorizeURL builds the Square connect link. The state is a signed
// short-lived token so the callback can reject forged or stale
// redirects.
func (s *oauthService) AuthorizeURL(redirectURI string) (string, error) {
	state, err := s.signState()
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}

	q := url.Values{
		"client_id":     {s.cfg.ClientID},
		"scope":         {strings.Join(oauthScopes, " ")},
		"session":       {"false"},
		"state":         {state},
		"response_type": {"code"},
	}
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	return s.cfg.BaseURL + "/oauth2/authorize?" + q.Encode(), nil
}

func (s *oauthService) signState() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        random.String(16),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
	})
	return token.SignedString([]byte(s.cfg.StateSecret))
}

func (s *oauthService) verifyState(state string) error {
	_, err := jwt.Parse(state, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.StateSecret), nil
	})
	if err != nil {
		return ErrInvalidState
	}
	return nil
}

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
}

// HandleCallback exchanges the authorization code for tokens and stores
// the connection. Reconnecting an existing merchant refreshes tokens in
// place without resetting when they first connected.
func (s *oauthService) HandleCallback(ctx context.Context, code, state string) (*models.SquareConnection, error) {
	if err := s.verifyState(state); err != nil {
		return nil, err
	}

	tok, err := s.token(ctx, map[string]string{
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
	})
	if err != nil {
		return nil, fmt.Errorf("oauth code exchange failed: %w", err)
	}

	conn := &models.SquareConnection{
		ID:           uuid.New(),
		MerchantID:   tok.MerchantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    parseTokenExpiry(tok.ExpiresAt),
		IsActive:     true,
	}

	// Best effort: record the merchant's main location so orders and
	// subscriptions land somewhere sensible.
	if locationID, locErr := s.mainLocation(ctx, tok.AccessToken); locErr != nil {
		log.Printf("WARN: could not fetch main location for merchant %s: %v", tok.MerchantID, locErr)
	} else {
		conn.LocationID = &locationID
	}

	if err := s.connRepo.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to store square connection: %w", err)
	}
	return conn, nil
}

// RefreshConnection swaps the refresh token for a new access token and
// persists the result.
func (s *oauthService) RefreshConnection(ctx context.Context, conn *models.SquareConnection) error {
	tok, err := s.token(ctx, map[string]string{
		"client_id":     s.cfg.ClientID,
		"client_secret": s.cfg.ClientSecret,
		"refresh_token": conn.RefreshToken,
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return fmt.Errorf("oauth refresh for merchant %s failed: %w", conn.MerchantID, err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}
	expiresAt := time.Now().Add(30 * 24 * time.Hour)
	if parsed := parseTokenExpiry(tok.ExpiresAt); parsed != nil {
		expiresAt = *parsed
	}
	if err := s.connRepo.UpdateTokens(ctx, conn.MerchantID, tok.AccessToken, refreshToken, expiresAt); err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	conn.AccessToken = tok.AccessToken
	conn.RefreshToken = refreshToken
	conn.ExpiresAt = &expiresAt
	return nil
}

// Revoke tells Square to drop the grant and deactivates the stored
// connection. The local deactivation happens even if the remote revoke
// fails, since the merchant asked to disconnect.
func (s *oauthService) Revoke(ctx context.Context, merchantID string) error {
	body, _ := json.Marshal(map[string]any{
		"client_id":   s.cfg.ClientID,
		"merchant_id": merchantID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/oauth2/revoke", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Client "+s.cfg.ClientSecret)

	resp, err := s.http.Do(req)
	if err != nil {
		log.Printf("WARN: square revoke request for merchant %s failed: %v", merchantID, err)
	} else {
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			log.Printf("WARN: square revoke for merchant %s returned %d: %s", merchantID, resp.StatusCode, string(data))
		}
	}

	return s.connRepo.Deactivate(ctx, merchantID)
}

func (s *oauthService) token(ctx context.Context, form map[string]string) (*oauthTokenResponse, error) {
	body, err := json.Marshal(form)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(data))
	}
	tok := &oauthTokenResponse{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" || tok.MerchantID == "" {
		return nil, fmt.Errorf("token response missing access token or merchant id")
	}
	return tok, nil
}

// mainLocation returns the id of the merchant's main location, or the
// first one listed when none is marked main.
func (s *oauthService) mainLocation(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/v2/locations", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("locations endpoint returned %d", resp.StatusCode)
	}
	var parsed struct {
		Locations []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"locations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Locations) == 0 {
		return "", fmt.Errorf("merchant has no locations")
	}
	for _, loc := range parsed.Locations {
		if loc.Type == "PHYSICAL" {
			return loc.ID, nil
		}
	}
	return parsed.Locations[0].ID, nil
}

func parseTokenExpiry(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
