package repositories

import (
	"context"

	"shulpad/internal/models"
)

type DeviceRepository interface {
	Register(ctx context.Context, device *models.Device) error
	CountActive(ctx context.Context, merchantID string) (int, error)
}

type deviceRepo struct {
	db DBTX
}

func NewDeviceRepository(db DBTX) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) Register(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, merchant_id, label, is_active, created_at)
		VALUES ($1, $2, $3, true, NOW())
	`
	_, err := r.db.Exec(ctx, query, device.ID, device.MerchantID, device.Label)
	return err
}

func (r *deviceRepo) CountActive(ctx context.Context, merchantID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM devices WHERE merchant_id = $1 AND is_active = true`
	err := r.db.QueryRow(ctx, query, merchantID).Scan(&count)
	return count, err
}
