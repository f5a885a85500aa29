package services

import (
	"testing"

	"shulpad/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePriceFullPrice(t *testing.T) {
	tests := []struct {
		name        string
		planType    string
		deviceCount int
		wantCents   int64
	}{
		{"monthly single device", models.PlanTypeMonthly, 1, 4900},
		{"monthly two devices", models.PlanTypeMonthly, 2, 6400},
		{"monthly five devices", models.PlanTypeMonthly, 5, 10900},
		{"yearly single device", models.PlanTypeYearly, 1, 49000},
		{"yearly three devices", models.PlanTypeYearly, 3, 79000},
		{"zero devices charged as one", models.PlanTypeMonthly, 0, 4900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := CalculatePrice(tt.planType, tt.deviceCount, false, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCents, quote.FinalPriceCents)
			assert.Equal(t, tt.wantCents, quote.InitialTotalCents)
			assert.Equal(t, int64(0), quote.DiscountCents)
			assert.Equal(t, ReasonFullPrice, quote.Reason)
		})
	}
}

func TestCalculatePriceUnknownPlan(t *testing.T) {
	_, err := CalculatePrice("weekly", 1, false, nil)
	assert.Error(t, err)
}

func TestCalculatePriceTrial(t *testing.T) {
	quote, err := CalculatePrice(models.PlanTypeMonthly, 2, true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.FinalPriceCents)
	assert.Equal(t, int64(6400), quote.DiscountCents)
	assert.Equal(t, ReasonTrial, quote.Reason)
}

func TestCalculatePriceTrialWinsOverPromo(t *testing.T) {
	promo := &models.PromoCode{
		Code:          "HALF",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 50,
		Active:        true,
	}
	quote, err := CalculatePrice(models.PlanTypeMonthly, 1, true, promo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.FinalPriceCents)
	assert.Equal(t, ReasonTrial, quote.Reason)
}

func TestCalculatePricePercentagePromo(t *testing.T) {
	promo := &models.PromoCode{
		Code:          "SAVE25",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 25,
	}
	quote, err := CalculatePrice(models.PlanTypeMonthly, 1, false, promo)
	require.NoError(t, err)
	assert.Equal(t, int64(1225), quote.DiscountCents)
	assert.Equal(t, int64(3675), quote.FinalPriceCents)
	assert.Equal(t, "promo_SAVE25", quote.Reason)
}

func TestCalculatePricePercentagePromoRounds(t *testing.T) {
	// 33% of 6400 is 2112 exactly; 33% of 4900 is 1617.
	promo := &models.PromoCode{
		Code:          "THIRD",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 33,
	}
	quote, err := CalculatePrice(models.PlanTypeMonthly, 1, false, promo)
	require.NoError(t, err)
	assert.Equal(t, int64(1617), quote.DiscountCents)
	assert.Equal(t, int64(3283), quote.FinalPriceCents)
}

func TestCalculatePriceFixedPromoClampsAtZero(t *testing.T) {
	promo := &models.PromoCode{
		Code:          "BIGFIX",
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 10000,
	}
	quote, err := CalculatePrice(models.PlanTypeMonthly, 1, false, promo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.FinalPriceCents)
	assert.Equal(t, int64(10000), quote.DiscountCents)
}

func TestCalculatePriceUnknownDiscountType(t *testing.T) {
	promo := &models.PromoCode{
		Code:         "ODD",
		DiscountType: "buy_one_get_one",
	}
	_, err := CalculatePrice(models.PlanTypeMonthly, 1, false, promo)
	assert.Error(t, err)
}
