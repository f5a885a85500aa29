package repositories

import (
	"context"

	"shulpad/internal/models"
)

type PresetDonationRepository interface {
	ListByOrganization(ctx context.Context, organizationID string) ([]*models.PresetDonation, error)
	// ReplaceForOrganizationTx deletes every preset row for the
	// organization and reinserts the given set. Runs inside the catalog
	// sync transaction.
	ReplaceForOrganizationTx(ctx context.Context, q DBTX, organizationID string, presets []*models.PresetDonation) error
}

type presetDonationRepo struct {
	db DBTX
}

func NewPresetDonationRepository(db DBTX) PresetDonationRepository {
	return &presetDonationRepo{db: db}
}

func (r *presetDonationRepo) ListByOrganization(ctx context.Context, organizationID string) ([]*models.PresetDonation, error) {
	query := `
		SELECT id, organization_id, amount_cents, catalog_item_id, catalog_variation_id, display_order, created_at
		FROM preset_donations
		WHERE organization_id = $1
		ORDER BY display_order ASC
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []*models.PresetDonation
	for rows.Next() {
		p := &models.PresetDonation{}
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.AmountCents, &p.CatalogItemID, &p.CatalogVariationID, &p.DisplayOrder, &p.CreatedAt); err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

func (r *presetDonationRepo) ReplaceForOrganizationTx(ctx context.Context, q DBTX, organizationID string, presets []*models.PresetDonation) error {
	if _, err := q.Exec(ctx, `DELETE FROM preset_donations WHERE organization_id = $1`, organizationID); err != nil {
		return err
	}
	insert := `
		INSERT INTO preset_donations (id, organization_id, amount_cents, catalog_item_id, catalog_variation_id, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	for _, p := range presets {
		if _, err := q.Exec(ctx, insert, p.ID, p.OrganizationID, p.AmountCents, p.CatalogItemID, p.CatalogVariationID, p.DisplayOrder); err != nil {
			return err
		}
	}
	return nil
}
