package models

import (
	"time"

	"github.com/google/uuid"
)

// Donation is one completed donation for reporting. Inserted by the
// webhook receiver when a subscription invoice is paid, and usable for
// any other donation source the kiosk records.
type Donation struct {
	ID             uuid.UUID `json:"id" db:"id"`
	MerchantID     string    `json:"merchant_id" db:"merchant_id"`
	AmountCents    int64     `json:"amount_cents" db:"amount_cents"`
	Source         string    `json:"source" db:"source"`
	SquareObjectID *string   `json:"square_object_id" db:"square_object_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Device is one registered kiosk device for a merchant. The count of
// active devices drives per-device pricing.
type Device struct {
	ID         uuid.UUID `json:"id" db:"id"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	Label      *string   `json:"label" db:"label"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
