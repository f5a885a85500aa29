package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subscription statuses. At most one row per merchant may be in an
// active or paused state at a time.
const (
	SubscriptionStatusPending     = "pending"
	SubscriptionStatusActive      = "active"
	SubscriptionStatusPaused      = "paused"
	SubscriptionStatusCanceled    = "canceled"
	SubscriptionStatusDeactivated = "deactivated"
)

// Plan types.
const (
	PlanTypeMonthly = "monthly"
	PlanTypeYearly  = "yearly"
)

// StatusFromSquare converts Square's subscription status to the local
// enum. Every caller that touches a Square status goes through here,
// whether it arrived from a synchronous API call or a webhook.
func StatusFromSquare(squareStatus string) string {
	switch squareStatus {
	case "ACTIVE":
		return SubscriptionStatusActive
	case "CANCELED":
		return SubscriptionStatusCanceled
	case "DEACTIVATED":
		return SubscriptionStatusDeactivated
	case "PAUSED":
		return SubscriptionStatusPaused
	default:
		return SubscriptionStatusPending
	}
}

type Subscription struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	MerchantID           string     `json:"merchant_id" db:"merchant_id"`
	SquareSubscriptionID *string    `json:"square_subscription_id" db:"square_subscription_id"`
	PlanType             string     `json:"plan_type" db:"plan_type"`
	DeviceCount          int        `json:"device_count" db:"device_count"`
	BasePriceCents       int64      `json:"base_price_cents" db:"base_price_cents"`
	TotalPriceCents      int64      `json:"total_price_cents" db:"total_price_cents"`
	Status               string     `json:"status" db:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end" db:"current_period_end"`
	CanceledAt           *time.Time `json:"canceled_at" db:"canceled_at"`
	GracePeriodStart     *time.Time `json:"grace_period_start" db:"grace_period_start"`
	PromoCodeUsed        *string    `json:"promo_code_used" db:"promo_code_used"`
	DiscountAmountCents  int64      `json:"discount_amount_cents" db:"discount_amount_cents"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// IsLocal reports whether the subscription exists only in our database,
// with no Square counterpart. Free and trial subscriptions carry a
// locally generated id with a recognizable prefix.
func (s *Subscription) IsLocal() bool {
	if s.SquareSubscriptionID == nil {
		return true
	}
	id := *s.SquareSubscriptionID
	return strings.HasPrefix(id, "free_") || strings.HasPrefix(id, "local-")
}
