package repositories

import (
	"context"
	"errors"

	"shulpad/internal/models"

	"github.com/jackc/pgx/v5"
)

type SubscriptionRepository interface {
	// GetLatestForMerchant returns the most recent subscription row for
	// the merchant regardless of status.
	GetLatestForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error)
	// GetCurrentForMerchant returns the most recent active or paused row.
	GetCurrentForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error)
	// PersistCreate writes the subscription row and, when a promo code
	// was redeemed, bumps its usage counter in the same transaction. A
	// unique index on merchant_id serializes concurrent creates.
	PersistCreate(ctx context.Context, sub *models.Subscription, promoCode *string) error
	Update(ctx context.Context, sub *models.Subscription) error
}

type subscriptionRepo struct {
	db DB
}

func NewSubscriptionRepository(db DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, merchant_id, square_subscription_id, plan_type, device_count, base_price_cents, total_price_cents, status, current_period_start, current_period_end, canceled_at, grace_period_start, promo_code_used, discount_amount_cents, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(&sub.ID, &sub.MerchantID, &sub.SquareSubscriptionID, &sub.PlanType, &sub.DeviceCount, &sub.BasePriceCents, &sub.TotalPriceCents, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CanceledAt, &sub.GracePeriodStart, &sub.PromoCodeUsed, &sub.DiscountAmountCents, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepo) GetLatestForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, merchantID))
}

func (r *subscriptionRepo) GetCurrentForMerchant(ctx context.Context, merchantID string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE merchant_id = $1 AND status IN ('active', 'paused')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, merchantID))
}

func (r *subscriptionRepo) PersistCreate(ctx context.Context, sub *models.Subscription, promoCode *string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := upsertSubscription(ctx, tx, sub); err != nil {
		return err
	}
	if promoCode != nil {
		if err := incrementPromoUsage(ctx, tx, *promoCode); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func upsertSubscription(ctx context.Context, q DBTX, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, merchant_id, square_subscription_id, plan_type, device_count, base_price_cents, total_price_cents, status, current_period_start, current_period_end, canceled_at, grace_period_start, promo_code_used, discount_amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (merchant_id) DO UPDATE SET
			square_subscription_id = EXCLUDED.square_subscription_id,
			plan_type = EXCLUDED.plan_type,
			device_count = EXCLUDED.device_count,
			base_price_cents = EXCLUDED.base_price_cents,
			total_price_cents = EXCLUDED.total_price_cents,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			canceled_at = EXCLUDED.canceled_at,
			grace_period_start = EXCLUDED.grace_period_start,
			promo_code_used = EXCLUDED.promo_code_used,
			discount_amount_cents = EXCLUDED.discount_amount_cents,
			updated_at = NOW()
	`
	_, err := q.Exec(ctx, query, sub.ID, sub.MerchantID, sub.SquareSubscriptionID, sub.PlanType, sub.DeviceCount, sub.BasePriceCents, sub.TotalPriceCents, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt, sub.GracePeriodStart, sub.PromoCodeUsed, sub.DiscountAmountCents)
	return err
}

func (r *subscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	query := `
		UPDATE subscriptions
		SET square_subscription_id = $1, plan_type = $2, device_count = $3, base_price_cents = $4, total_price_cents = $5, status = $6, current_period_start = $7, current_period_end = $8, canceled_at = $9, grace_period_start = $10, promo_code_used = $11, discount_amount_cents = $12, updated_at = NOW()
		WHERE id = $13
	`
	tag, err := r.db.Exec(ctx, query, sub.SquareSubscriptionID, sub.PlanType, sub.DeviceCount, sub.BasePriceCents, sub.TotalPriceCents, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt, sub.GracePeriodStart, sub.PromoCodeUsed, sub.DiscountAmountCents, sub.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
