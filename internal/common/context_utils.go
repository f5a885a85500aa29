package common

import (
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]string) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

// SendValidationError sends a validation error response
func SendValidationError(c echo.Context, field, message string) error {
	details := map[string]string{
		field: message,
	}
	return c.JSON(http.StatusBadRequest, CreateErrorResponse("VALIDATION_ERROR", "Validation failed", details))
}

// SendClientError sends a client error response
func SendClientError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, CreateErrorResponse("CLIENT_ERROR", message, nil))
}

// SendServerError sends a server error response
func SendServerError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, CreateErrorResponse("SERVER_ERROR", message, nil))
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, CreateErrorResponse("NOT_FOUND", fmt.Sprintf("%s not found", resource), nil))
}

// SendUnauthorizedError sends an unauthorized error response
func SendUnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, CreateErrorResponse("UNAUTHORIZED", "Unauthorized access", nil))
}

// ValidateRequiredString validates required string fields
func ValidateRequiredString(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateEmail validates email address format
func ValidateEmail(email, fieldName string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%s has invalid email format", fieldName)
	}
	return nil
}

// ValidatePlanType validates subscription plan type values
func ValidatePlanType(planType string) error {
	if planType != "monthly" && planType != "yearly" {
		return fmt.Errorf("plan type must be either 'monthly' or 'yearly'")
	}
	return nil
}

// ValidateDeviceCount validates device counts with an upper bound
func ValidateDeviceCount(count int) error {
	if count <= 0 {
		return fmt.Errorf("device count must be positive")
	}
	if count > 100 {
		return fmt.Errorf("device count cannot exceed 100")
	}
	return nil
}

// ValidatePresetAmounts validates preset donation amounts in cents
func ValidatePresetAmounts(amounts []int64) error {
	if len(amounts) == 0 {
		return fmt.Errorf("at least one preset amount is required")
	}
	if len(amounts) > 20 {
		return fmt.Errorf("cannot have more than 20 preset amounts")
	}
	for _, amount := range amounts {
		if amount <= 0 {
			return fmt.Errorf("preset amounts must be positive")
		}
		if amount > 100000000 {
			return fmt.Errorf("preset amounts cannot exceed $1,000,000")
		}
	}
	return nil
}

// ValidateCoordinates validates latitude and longitude bounds
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90")
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180")
	}
	return nil
}

// ValidateZipCode validates US zip code format
func ValidateZipCode(zip string) error {
	zip = strings.TrimSpace(zip)
	if len(zip) != 5 {
		return fmt.Errorf("zip code must be exactly 5 digits")
	}
	for _, r := range zip {
		if r < '0' || r > '9' {
			return fmt.Errorf("zip code must contain only digits")
		}
	}
	return nil
}

// ValidatePaginationParams validates pagination parameters
func ValidatePaginationParams(limit, offset int) (int, int, error) {
	if limit <= 0 {
		limit = 50 // Default
	}
	if limit > 1000 {
		limit = 1000 // Maximum
	}
	if offset < 0 {
		offset = 0
	}
	if offset > 1000000 {
		return 0, 0, fmt.Errorf("offset cannot exceed 1,000,000")
	}
	return limit, offset, nil
}

// ValidateDateFormat validates date strings
func ValidateDateFormat(dateStr, fieldName string) error {
	if strings.TrimSpace(dateStr) == "" {
		return nil // Empty is allowed, will be handled elsewhere
	}
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		return fmt.Errorf("%s must be in YYYY-MM-DD format", fieldName)
	}
	return nil
}

// SafeString safely handles string pointer operations
func SafeString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
