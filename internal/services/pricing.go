package services

import (
	"fmt"
	"math"

	"shulpad/internal/models"
)

// PlanRates holds per-plan pricing in cents.
type PlanRates struct {
	BaseCents        int64
	ExtraDeviceCents int64
}

// planRates is the single pricing table. Both validate-price and create
// go through CalculatePrice so the previewed and charged amounts can
// never drift apart.
var planRates = map[string]PlanRates{
	models.PlanTypeMonthly: {BaseCents: 4900, ExtraDeviceCents: 1500},
	models.PlanTypeYearly:  {BaseCents: 49000, ExtraDeviceCents: 15000},
}

// Reason codes returned with every quote.
const (
	ReasonFullPrice = "full_price"
	ReasonTrial     = "30_DAY_TRIAL"
)

// PriceQuote is the result of one pricing calculation.
type PriceQuote struct {
	PlanType           string `json:"plan_type"`
	DeviceCount        int    `json:"device_count"`
	BasePriceCents     int64  `json:"base_price_cents"`
	InitialTotalCents  int64  `json:"initial_total_cents"`
	DiscountCents      int64  `json:"discount_cents"`
	FinalPriceCents    int64  `json:"final_price_cents"`
	Reason             string `json:"reason"`
}

// CalculatePrice computes the charge for a plan. Device counts below one
// are charged as a single device. Trial wins over promo; the final price
// is never negative.
func CalculatePrice(planType string, deviceCount int, trial bool, promo *models.PromoCode) (*PriceQuote, error) {
	rates, ok := planRates[planType]
	if !ok {
		return nil, fmt.Errorf("unknown plan type: %s", planType)
	}

	extraDevices := deviceCount - 1
	if extraDevices < 0 {
		extraDevices = 0
	}
	initial := rates.BaseCents + int64(extraDevices)*rates.ExtraDeviceCents

	quote := &PriceQuote{
		PlanType:          planType,
		DeviceCount:       deviceCount,
		BasePriceCents:    rates.BaseCents,
		InitialTotalCents: initial,
		FinalPriceCents:   initial,
		Reason:            ReasonFullPrice,
	}

	if trial {
		quote.DiscountCents = initial
		quote.FinalPriceCents = 0
		quote.Reason = ReasonTrial
		return quote, nil
	}

	if promo != nil {
		var discount int64
		switch promo.DiscountType {
		case models.DiscountTypePercentage:
			discount = int64(math.Round(float64(initial) * float64(promo.DiscountValue) / 100.0))
		case models.DiscountTypeFixedAmount:
			discount = promo.DiscountValue
		default:
			return nil, fmt.Errorf("unknown discount type: %s", promo.DiscountType)
		}
		final := initial - discount
		if final < 0 {
			final = 0
		}
		quote.DiscountCents = discount
		quote.FinalPriceCents = final
		quote.Reason = "promo_" + promo.Code
	}

	return quote, nil
}
