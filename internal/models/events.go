package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the audit row for every processed Square webhook
// delivery, keyed by Square's event id so redeliveries upsert instead
// of duplicating.
type WebhookEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	EventID    string    `json:"event_id" db:"event_id"`
	EventType  string    `json:"event_type" db:"event_type"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	Payload    []byte    `json:"payload" db:"payload"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// PaymentEvent mirrors a Square payment object.
type PaymentEvent struct {
	ID              uuid.UUID `json:"id" db:"id"`
	SquarePaymentID string    `json:"square_payment_id" db:"square_payment_id"`
	MerchantID      string    `json:"merchant_id" db:"merchant_id"`
	Status          string    `json:"status" db:"status"`
	AmountCents     int64     `json:"amount_cents" db:"amount_cents"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OrderEvent mirrors a Square order object.
type OrderEvent struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SquareOrderID string    `json:"square_order_id" db:"square_order_id"`
	MerchantID    string    `json:"merchant_id" db:"merchant_id"`
	State         string    `json:"state" db:"state"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SubscriptionEvent is an append-only audit trail of subscription
// transitions, whether driven by our endpoints or by Square webhooks.
type SubscriptionEvent struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	MerchantID           string    `json:"merchant_id" db:"merchant_id"`
	SquareSubscriptionID *string   `json:"square_subscription_id" db:"square_subscription_id"`
	EventType            string    `json:"event_type" db:"event_type"`
	Status               string    `json:"status" db:"status"`
	Detail               *string   `json:"detail" db:"detail"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// SubscriptionInvoice mirrors a Square invoice tied to a subscription.
type SubscriptionInvoice struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	SquareInvoiceID      string    `json:"square_invoice_id" db:"square_invoice_id"`
	SquareSubscriptionID string    `json:"square_subscription_id" db:"square_subscription_id"`
	MerchantID           string    `json:"merchant_id" db:"merchant_id"`
	Status               string    `json:"status" db:"status"`
	AmountCents          int64     `json:"amount_cents" db:"amount_cents"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}
