package models

import (
	"time"

	"github.com/google/uuid"
)

// trialWindow is how long after first connecting a merchant may start a
// free trial subscription.
const trialWindow = 30 * 24 * time.Hour

// SquareConnection holds the OAuth tokens for one connected merchant.
// merchant_id doubles as the organization id everywhere else in the
// system.
type SquareConnection struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	MerchantID   string     `json:"merchant_id" db:"merchant_id"`
	LocationID   *string    `json:"location_id" db:"location_id"`
	AccessToken  string     `json:"-" db:"access_token"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at" db:"expires_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// TrialEligible reports whether the merchant is still inside the trial
// window counted from when they first connected. The boundary is
// strict: exactly 30 days is no longer eligible.
func (c *SquareConnection) TrialEligible(now time.Time) bool {
	return now.Sub(c.CreatedAt) < trialWindow
}
