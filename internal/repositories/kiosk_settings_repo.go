package repositories

import (
	"context"
	"errors"
	"time"

	"shulpad/internal/models"

	"github.com/jackc/pgx/v5"
)

type KioskSettingsRepository interface {
	GetByOrganization(ctx context.Context, organizationID string) (*models.KioskSettings, error)
	// ListPendingSync returns organizations whose preset_amounts mailbox
	// has something to drain.
	ListPendingSync(ctx context.Context) ([]*models.KioskSettings, error)
	UpdatePresets(ctx context.Context, settings *models.KioskSettings) error
	ClearCatalogParent(ctx context.Context, organizationID string) error
	// MarkSyncedTx records the sync result and drains preset_amounts in
	// the same statement. Runs inside the catalog sync transaction.
	MarkSyncedTx(ctx context.Context, q DBTX, organizationID, catalogParentID string, syncedAt time.Time) error
	TouchCatalogSync(ctx context.Context, merchantID string, at time.Time) error
}

type kioskSettingsRepo struct {
	db DBTX
}

func NewKioskSettingsRepository(db DBTX) KioskSettingsRepository {
	return &kioskSettingsRepo{db: db}
}

const kioskSettingsColumns = `id, organization_id, preset_amounts, processing_fee_enabled, processing_fee_percentage, processing_fee_fixed_cents, catalog_parent_id, last_catalog_sync, created_at, updated_at`

func scanKioskSettings(row pgx.Row) (*models.KioskSettings, error) {
	s := &models.KioskSettings{}
	err := row.Scan(&s.ID, &s.OrganizationID, &s.PresetAmounts, &s.ProcessingFeeEnabled, &s.ProcessingFeePercentage, &s.ProcessingFeeFixedCents, &s.CatalogParentID, &s.LastCatalogSync, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *kioskSettingsRepo) GetByOrganization(ctx context.Context, organizationID string) (*models.KioskSettings, error) {
	query := `
		SELECT ` + kioskSettingsColumns + `
		FROM kiosk_settings
		WHERE organization_id = $1
	`
	return scanKioskSettings(r.db.QueryRow(ctx, query, organizationID))
}

func (r *kioskSettingsRepo) ListPendingSync(ctx context.Context) ([]*models.KioskSettings, error) {
	query := `
		SELECT ` + kioskSettingsColumns + `
		FROM kiosk_settings
		WHERE preset_amounts IS NOT NULL
		ORDER BY updated_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.KioskSettings
	for rows.Next() {
		s := &models.KioskSettings{}
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.PresetAmounts, &s.ProcessingFeeEnabled, &s.ProcessingFeePercentage, &s.ProcessingFeeFixedCents, &s.CatalogParentID, &s.LastCatalogSync, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *kioskSettingsRepo) UpdatePresets(ctx context.Context, settings *models.KioskSettings) error {
	query := `
		INSERT INTO kiosk_settings (id, organization_id, preset_amounts, processing_fee_enabled, processing_fee_percentage, processing_fee_fixed_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			preset_amounts = EXCLUDED.preset_amounts,
			processing_fee_enabled = EXCLUDED.processing_fee_enabled,
			processing_fee_percentage = EXCLUDED.processing_fee_percentage,
			processing_fee_fixed_cents = EXCLUDED.processing_fee_fixed_cents,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, settings.ID, settings.OrganizationID, settings.PresetAmounts, settings.ProcessingFeeEnabled, settings.ProcessingFeePercentage, settings.ProcessingFeeFixedCents)
	return err
}

func (r *kioskSettingsRepo) ClearCatalogParent(ctx context.Context, organizationID string) error {
	query := `
		UPDATE kiosk_settings
		SET catalog_parent_id = NULL, updated_at = NOW()
		WHERE organization_id = $1
	`
	_, err := r.db.Exec(ctx, query, organizationID)
	return err
}

func (r *kioskSettingsRepo) MarkSyncedTx(ctx context.Context, q DBTX, organizationID, catalogParentID string, syncedAt time.Time) error {
	query := `
		UPDATE kiosk_settings
		SET catalog_parent_id = $1, last_catalog_sync = $2, preset_amounts = NULL, updated_at = NOW()
		WHERE organization_id = $3
	`
	tag, err := q.Exec(ctx, query, catalogParentID, syncedAt, organizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *kioskSettingsRepo) TouchCatalogSync(ctx context.Context, merchantID string, at time.Time) error {
	query := `
		UPDATE kiosk_settings
		SET last_catalog_sync = $1, updated_at = NOW()
		WHERE organization_id = $2
	`
	_, err := r.db.Exec(ctx, query, at, merchantID)
	return err
}
