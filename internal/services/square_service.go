package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// SquareService handles all Square API interactions. Every call carries
// the merchant's OAuth bearer token; idempotency keys are supplied by
// the caller where Square supports them.
type SquareService interface {
	CreateCustomer(ctx context.Context, accessToken, email, name string) (string, error)
	CreateCardOnFile(ctx context.Context, accessToken, customerID, sourceID, idempotencyKey string) (string, error)
	CreateSubscriptionPlan(ctx context.Context, accessToken, planName string, cadence string, idempotencyKey string) (string, error)
	CreateSubscription(ctx context.Context, accessToken string, req *CreateSquareSubscriptionRequest) (*SquareSubscription, error)
	CancelSubscription(ctx context.Context, accessToken, subscriptionID string) (*SquareSubscription, error)
	GetSubscription(ctx context.Context, accessToken, subscriptionID string) (*SquareSubscription, error)
	BatchUpsertCatalogObjects(ctx context.Context, accessToken, idempotencyKey string, objects []CatalogObject) (*BatchUpsertResult, error)
	ValidateCatalogObject(ctx context.Context, accessToken, objectID string) (bool, error)
}

type squareService struct {
	baseURL string
	http    *http.Client
}

// NewSquareService creates a Square API client. baseURL distinguishes
// production from the sandbox environment.
func NewSquareService(baseURL string) SquareService {
	return &squareService{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SquareErrorDetail is one entry of Square's errors[] envelope.
type SquareErrorDetail struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

// SquareError carries Square's structured error response through to
// callers largely verbatim. Transient is set for 5xx responses.
type SquareError struct {
	StatusCode int
	Errors     []SquareErrorDetail
	Transient  bool
}

func (e *SquareError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("square api error %d: %s (%s)", e.StatusCode, e.Errors[0].Detail, e.Errors[0].Code)
	}
	return fmt.Sprintf("square api error %d", e.StatusCode)
}

// CreateSquareSubscriptionRequest is the payload for subscription creation.
type CreateSquareSubscriptionRequest struct {
	LocationID         string
	PlanVariationID    string
	CustomerID         string
	CardID             string
	PriceOverrideCents int64
	StartDate          string
	IdempotencyKey     string
}

// SquareSubscription is the subset of Square's subscription object the
// lifecycle manager consumes.
type SquareSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	StartDate          string `json:"start_date"`
	CanceledDate       string `json:"canceled_date,omitempty"`
	ChargedThroughDate string `json:"charged_through_date,omitempty"`
}

// CatalogObject is a minimal Square catalog object for batch upserts.
type CatalogObject struct {
	Type          string             `json:"type"`
	ID            string             `json:"id"`
	ItemData      *CatalogItemData   `json:"item_data,omitempty"`
	VariationData *CatalogItemVarData `json:"item_variation_data,omitempty"`
}

type CatalogItemData struct {
	Name       string          `json:"name"`
	Variations []CatalogObject `json:"variations,omitempty"`
}

type CatalogItemVarData struct {
	ItemID      string   `json:"item_id"`
	Name        string   `json:"name"`
	PricingType string   `json:"pricing_type"`
	PriceMoney  *Money   `json:"price_money,omitempty"`
	// CustomAttributeValues carries the pre-fee donation amount when fee
	// passthrough inflates the listed price.
	CustomAttributeValues map[string]string `json:"custom_attribute_values,omitempty"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// IDMapping maps a client-side temporary id to the Square-assigned id.
type IDMapping struct {
	ClientObjectID string `json:"client_object_id"`
	ObjectID       string `json:"object_id"`
}

// BatchUpsertResult is the catalog batch-upsert response.
type BatchUpsertResult struct {
	Objects    []CatalogObject `json:"objects"`
	IDMappings []IDMapping     `json:"id_mappings"`
}

func (s *squareService) CreateCustomer(ctx context.Context, accessToken, email, name string) (string, error) {
	body := map[string]any{
		"email_address": email,
		"given_name":    name,
	}
	var resp struct {
		Customer struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/customers", accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return resp.Customer.ID, nil
}

func (s *squareService) CreateCardOnFile(ctx context.Context, accessToken, customerID, sourceID, idempotencyKey string) (string, error) {
	body := map[string]any{
		"idempotency_key": idempotencyKey,
		"source_id":       sourceID,
		"card": map[string]any{
			"customer_id": customerID,
		},
	}
	var resp struct {
		Card struct {
			ID string `json:"id"`
		} `json:"card"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/cards", accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("create card on file: %w", err)
	}
	return resp.Card.ID, nil
}

// CreateSubscriptionPlan creates a SUBSCRIPTION_PLAN catalog object with
// one variation for the given cadence and returns the variation id.
func (s *squareService) CreateSubscriptionPlan(ctx context.Context, accessToken, planName, cadence, idempotencyKey string) (string, error) {
	body := map[string]any{
		"idempotency_key": idempotencyKey,
		"object": map[string]any{
			"type": "SUBSCRIPTION_PLAN",
			"id":   "#plan",
			"subscription_plan_data": map[string]any{
				"name": planName,
				"subscription_plan_variations": []map[string]any{
					{
						"type": "SUBSCRIPTION_PLAN_VARIATION",
						"id":   "#variation",
						"subscription_plan_variation_data": map[string]any{
							"name": planName,
							"phases": []map[string]any{
								{"cadence": cadence},
							},
						},
					},
				},
			},
		},
	}
	var resp struct {
		CatalogObject struct {
			SubscriptionPlanData struct {
				SubscriptionPlanVariations []struct {
					ID string `json:"id"`
				} `json:"subscription_plan_variations"`
			} `json:"subscription_plan_data"`
		} `json:"catalog_object"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/catalog/object", accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("create subscription plan: %w", err)
	}
	variations := resp.CatalogObject.SubscriptionPlanData.SubscriptionPlanVariations
	if len(variations) == 0 {
		return "", fmt.Errorf("create subscription plan: no variations returned")
	}
	return variations[0].ID, nil
}

func (s *squareService) CreateSubscription(ctx context.Context, accessToken string, req *CreateSquareSubscriptionRequest) (*SquareSubscription, error) {
	body := map[string]any{
		"idempotency_key":   req.IdempotencyKey,
		"location_id":       req.LocationID,
		"plan_variation_id": req.PlanVariationID,
		"customer_id":       req.CustomerID,
		"card_id":           req.CardID,
		"start_date":        req.StartDate,
		"phases": []map[string]any{
			{
				"ordinal": 0,
				"pricing": map[string]any{
					"type": "STATIC",
					"price_money": Money{
						Amount:   req.PriceOverrideCents,
						Currency: "USD",
					},
				},
			},
		},
	}
	var resp struct {
		Subscription SquareSubscription `json:"subscription"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/subscriptions", accessToken, body, &resp); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &resp.Subscription, nil
}

func (s *squareService) CancelSubscription(ctx context.Context, accessToken, subscriptionID string) (*SquareSubscription, error) {
	var resp struct {
		Subscription SquareSubscription `json:"subscription"`
	}
	path := fmt.Sprintf("/v2/subscriptions/%s/cancel", subscriptionID)
	if err := s.call(ctx, http.MethodPost, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Subscription, nil
}

func (s *squareService) GetSubscription(ctx context.Context, accessToken, subscriptionID string) (*SquareSubscription, error) {
	var resp struct {
		Subscription SquareSubscription `json:"subscription"`
	}
	path := fmt.Sprintf("/v2/subscriptions/%s", subscriptionID)
	if err := s.call(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &resp.Subscription, nil
}

func (s *squareService) BatchUpsertCatalogObjects(ctx context.Context, accessToken, idempotencyKey string, objects []CatalogObject) (*BatchUpsertResult, error) {
	body := map[string]any{
		"idempotency_key": idempotencyKey,
		"batches": []map[string]any{
			{"objects": objects},
		},
	}
	result := &BatchUpsertResult{}
	if err := s.call(ctx, http.MethodPost, "/v2/catalog/batch-upsert", accessToken, body, result); err != nil {
		return nil, fmt.Errorf("batch upsert catalog: %w", err)
	}
	return result, nil
}

// ValidateCatalogObject checks whether a catalog object still exists.
// A 404 means it was deleted out from under us (usually via the Square
// dashboard) and reports false rather than an error.
func (s *squareService) ValidateCatalogObject(ctx context.Context, accessToken, objectID string) (bool, error) {
	path := fmt.Sprintf("/v2/catalog/object/%s", objectID)
	err := s.call(ctx, http.MethodGet, path, accessToken, nil, &struct{}{})
	if err != nil {
		var sqErr *SquareError
		if errors.As(err, &sqErr) && sqErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("validate catalog object: %w", err)
	}
	return true, nil
}

// call issues one authenticated request and decodes the response into
// out. Non-2xx responses become *SquareError.
func (s *squareService) call(ctx context.Context, method, path, accessToken string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("square request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sqErr := &SquareError{
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500,
		}
		var envelope struct {
			Errors []SquareErrorDetail `json:"errors"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil {
			sqErr.Errors = envelope.Errors
		}
		return sqErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode square response: %w", err)
		}
	}
	return nil
}

// pendingCancelDatePattern matches the ISO date Square embeds in its
// "subscription already has a pending cancel date of YYYY-MM-DD" detail
// string. Coupling to upstream wording is contained to this one spot.
var (
	pendingCancelDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	pendingCancelPattern     = regexp.MustCompile(`(?i)pending.?cancel`)
)

// ParsePendingCancelDate extracts the already-scheduled end date from a
// cancel-rejected error. When the error is the pending-cancel kind but
// the date cannot be recovered, it returns ok=true with a zero time:
// the cancellation stands, the end date is just unknown.
func ParsePendingCancelDate(err error) (endDate time.Time, ok bool) {
	var sqErr *SquareError
	if !errors.As(err, &sqErr) {
		return time.Time{}, false
	}
	for _, detail := range sqErr.Errors {
		if detail.Code != "BAD_REQUEST" && detail.Code != "CONFLICTING_PARAMETERS" && detail.Code != "INVALID_VALUE" {
			continue
		}
		if !containsPendingCancel(detail.Detail) {
			continue
		}
		if match := pendingCancelDatePattern.FindString(detail.Detail); match != "" {
			if t, perr := time.Parse("2006-01-02", match); perr == nil {
				return t, true
			}
		}
		return time.Time{}, true
	}
	return time.Time{}, false
}

func containsPendingCancel(detail string) bool {
	return detail != "" && pendingCancelPattern.MatchString(detail)
}
