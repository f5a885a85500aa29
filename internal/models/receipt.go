package models

import (
	"time"

	"github.com/google/uuid"
)

// Receipt delivery statuses.
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSent    = "sent"
	DeliveryStatusFailed  = "failed"
)

// ReceiptLog is one receipt send attempt. Rows are immutable history
// apart from delivery_status and retry_count.
type ReceiptLog struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	DonorEmail     string    `json:"donor_email" db:"donor_email"`
	AmountCents    int64     `json:"amount_cents" db:"amount_cents"`
	DeliveryStatus string    `json:"delivery_status" db:"delivery_status"`
	RetryCount     int       `json:"retry_count" db:"retry_count"`
	ErrorMessage   *string   `json:"error_message" db:"error_message"`
	PDFObjectKey   *string   `json:"pdf_object_key" db:"pdf_object_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
