package repositories

import (
	"context"
	"time"

	"shulpad/internal/models"
)

// CatalogSyncStore applies the local half of a catalog sync in one
// transaction: the preset-donation rows are replaced and the kiosk
// settings row records the parent id, sync time, and drained mailbox.
// If any statement fails nothing is persisted, so catalog_parent_id can
// never point at a partially recorded sync.
type CatalogSyncStore interface {
	ApplySyncResult(ctx context.Context, organizationID, catalogParentID string, presets []*models.PresetDonation, syncedAt time.Time) error
}

type catalogSyncStore struct {
	db DB
}

func NewCatalogSyncStore(db DB) CatalogSyncStore {
	return &catalogSyncStore{db: db}
}

func (s *catalogSyncStore) ApplySyncResult(ctx context.Context, organizationID, catalogParentID string, presets []*models.PresetDonation, syncedAt time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	presetRepo := &presetDonationRepo{db: s.db}
	if err := presetRepo.ReplaceForOrganizationTx(ctx, tx, organizationID, presets); err != nil {
		return err
	}
	settingsRepo := &kioskSettingsRepo{db: s.db}
	if err := settingsRepo.MarkSyncedTx(ctx, tx, organizationID, catalogParentID, syncedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
