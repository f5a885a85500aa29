package repositories

import (
	"context"

	"shulpad/internal/models"
)

type DonationRepository interface {
	// CreateIfAbsent inserts the donation unless one already exists for
	// the same Square object, and reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, donation *models.Donation) (bool, error)
	ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]*models.Donation, error)
}

type donationRepo struct {
	db DBTX
}

func NewDonationRepository(db DBTX) DonationRepository {
	return &donationRepo{db: db}
}

func (r *donationRepo) CreateIfAbsent(ctx context.Context, donation *models.Donation) (bool, error) {
	query := `
		INSERT INTO donations (id, merchant_id, amount_cents, source, square_object_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (square_object_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, donation.ID, donation.MerchantID, donation.AmountCents, donation.Source, donation.SquareObjectID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *donationRepo) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]*models.Donation, error) {
	query := `
		SELECT id, merchant_id, amount_cents, source, square_object_id, created_at
		FROM donations
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donations []*models.Donation
	for rows.Next() {
		d := &models.Donation{}
		if err := rows.Scan(&d.ID, &d.MerchantID, &d.AmountCents, &d.Source, &d.SquareObjectID, &d.CreatedAt); err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}
