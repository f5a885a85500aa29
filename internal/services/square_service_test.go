package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePendingCancelDate(t *testing.T) {
	err := &SquareError{
		StatusCode: 400,
		Errors: []SquareErrorDetail{{
			Category: "INVALID_REQUEST_ERROR",
			Code:     "BAD_REQUEST",
			Detail:   "This subscription already has a pending cancel date of 2025-01-15.",
		}},
	}
	date, ok := ParsePendingCancelDate(err)
	require.True(t, ok)
	assert.Equal(t, "2025-01-15", date.Format("2006-01-02"))
}

func TestParsePendingCancelDateWrapped(t *testing.T) {
	inner := &SquareError{
		StatusCode: 400,
		Errors: []SquareErrorDetail{{
			Code:   "INVALID_VALUE",
			Detail: "Subscription has a pending-cancel scheduled for 2025-06-01",
		}},
	}
	wrapped := fmt.Errorf("cancel subscription: %w", inner)
	date, ok := ParsePendingCancelDate(wrapped)
	require.True(t, ok)
	assert.Equal(t, "2025-06-01", date.Format("2006-01-02"))
}

func TestParsePendingCancelDateWithoutDate(t *testing.T) {
	err := &SquareError{
		StatusCode: 400,
		Errors: []SquareErrorDetail{{
			Code:   "BAD_REQUEST",
			Detail: "Subscription already has a pending cancel.",
		}},
	}
	date, ok := ParsePendingCancelDate(err)
	assert.True(t, ok)
	assert.True(t, date.IsZero())
}

func TestParsePendingCancelDateUnrelatedError(t *testing.T) {
	_, ok := ParsePendingCancelDate(errors.New("connection refused"))
	assert.False(t, ok)

	sqErr := &SquareError{
		StatusCode: 400,
		Errors: []SquareErrorDetail{{
			Code:   "BAD_REQUEST",
			Detail: "Card declined.",
		}},
	}
	_, ok = ParsePendingCancelDate(sqErr)
	assert.False(t, ok)
}

func TestValidateCatalogObjectNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND","detail":"object not found"}]}`)
	}))
	defer server.Close()

	svc := NewSquareService(server.URL)
	exists, err := svc.ValidateCatalogObject(context.Background(), "tok", "MISSING")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidateCatalogObjectExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"object":{"type":"ITEM","id":"PARENT1"}}`)
	}))
	defer server.Close()

	svc := NewSquareService(server.URL)
	exists, err := svc.ValidateCatalogObject(context.Background(), "tok", "PARENT1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCancelSubscriptionSurfacesSquareError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"BAD_REQUEST","detail":"This subscription already has a pending cancel date of 2025-01-15."}]}`)
	}))
	defer server.Close()

	svc := NewSquareService(server.URL)
	_, err := svc.CancelSubscription(context.Background(), "tok", "SQSUB1")
	require.Error(t, err)

	date, ok := ParsePendingCancelDate(err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), date)
}

func TestCreateSubscriptionPlanReturnsVariation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/catalog/object", r.URL.Path)
		fmt.Fprint(w, `{"catalog_object":{"subscription_plan_data":{"subscription_plan_variations":[{"id":"VAR99"}]}}}`)
	}))
	defer server.Close()

	svc := NewSquareService(server.URL)
	variationID, err := svc.CreateSubscriptionPlan(context.Background(), "tok", "ShulPad Monthly", "MONTHLY", "key1")
	require.NoError(t, err)
	assert.Equal(t, "VAR99", variationID)
}

func TestServerErrorMarkedTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewSquareService(server.URL)
	_, err := svc.GetSubscription(context.Background(), "tok", "SQSUB1")
	require.Error(t, err)

	var sqErr *SquareError
	require.ErrorAs(t, err, &sqErr)
	assert.True(t, sqErr.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, sqErr.StatusCode)
}
