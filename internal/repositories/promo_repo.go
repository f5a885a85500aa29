package repositories

import (
	"context"
	"errors"
	"fmt"

	"shulpad/internal/models"

	"github.com/jackc/pgx/v5"
)

// ErrPromoExhausted is returned when a redemption would exceed the
// promo code's usage cap or the code is no longer active.
var ErrPromoExhausted = errors.New("promo code no longer redeemable")

type PromoCodeRepository interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	// IncrementUsageTx bumps used_count by one, failing instead of
	// overshooting max_uses. Runs inside the subscription-create
	// transaction so a failed bump aborts the creation.
	IncrementUsageTx(ctx context.Context, q DBTX, code string) error
}

type promoRepo struct {
	db DBTX
}

func NewPromoCodeRepository(db DBTX) PromoCodeRepository {
	return &promoRepo{db: db}
}

func (r *promoRepo) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	promo := &models.PromoCode{}
	query := `
		SELECT id, code, discount_type, discount_value, max_uses, used_count, valid_until, active, created_at
		FROM promo_codes
		WHERE code = $1
	`
	err := r.db.QueryRow(ctx, query, code).Scan(&promo.ID, &promo.Code, &promo.DiscountType, &promo.DiscountValue, &promo.MaxUses, &promo.UsedCount, &promo.ValidUntil, &promo.Active, &promo.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return promo, nil
}

func (r *promoRepo) IncrementUsageTx(ctx context.Context, q DBTX, code string) error {
	return incrementPromoUsage(ctx, q, code)
}

func incrementPromoUsage(ctx context.Context, q DBTX, code string) error {
	query := `
		UPDATE promo_codes
		SET used_count = used_count + 1
		WHERE code = $1 AND active = true AND (max_uses IS NULL OR used_count < max_uses)
	`
	tag, err := q.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("increment promo usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromoExhausted
	}
	return nil
}
