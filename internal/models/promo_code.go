package models

import (
	"time"

	"github.com/google/uuid"
)

// Promo discount types.
const (
	DiscountTypePercentage  = "percentage"
	DiscountTypeFixedAmount = "fixed_amount"
)

type PromoCode struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"`
	DiscountType  string     `json:"discount_type" db:"discount_type"`
	DiscountValue int64      `json:"discount_value" db:"discount_value"`
	MaxUses       *int       `json:"max_uses" db:"max_uses"`
	UsedCount     int        `json:"used_count" db:"used_count"`
	ValidUntil    *time.Time `json:"valid_until" db:"valid_until"`
	Active        bool       `json:"active" db:"active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Redeemable reports whether the code can still be applied: it must be
// active, not expired, and under its usage cap.
func (p *PromoCode) Redeemable(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.ValidUntil != nil && !p.ValidUntil.After(now) {
		return false
	}
	if p.MaxUses != nil && p.UsedCount >= *p.MaxUses {
		return false
	}
	return true
}
