package repositories

import (
	"context"
	"errors"
	"time"

	"shulpad/internal/models"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type ConnectionRepository interface {
	GetByMerchantID(ctx context.Context, merchantID string) (*models.SquareConnection, error)
	Upsert(ctx context.Context, conn *models.SquareConnection) error
	UpdateTokens(ctx context.Context, merchantID, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, merchantID string) error
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.SquareConnection, error)
}

type connectionRepo struct {
	db DBTX
}

func NewConnectionRepository(db DBTX) ConnectionRepository {
	return &connectionRepo{db: db}
}

const connectionColumns = `id, merchant_id, location_id, access_token, refresh_token, expires_at, is_active, created_at, updated_at`

func scanConnection(row pgx.Row) (*models.SquareConnection, error) {
	conn := &models.SquareConnection{}
	err := row.Scan(&conn.ID, &conn.MerchantID, &conn.LocationID, &conn.AccessToken, &conn.RefreshToken, &conn.ExpiresAt, &conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepo) GetByMerchantID(ctx context.Context, merchantID string) (*models.SquareConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM square_connections
		WHERE merchant_id = $1 AND is_active = true
	`
	return scanConnection(r.db.QueryRow(ctx, query, merchantID))
}

// Upsert keeps created_at from the original row on conflict so trial
// eligibility cannot be reset by reconnecting.
func (r *connectionRepo) Upsert(ctx context.Context, conn *models.SquareConnection) error {
	query := `
		INSERT INTO square_connections (id, merchant_id, location_id, access_token, refresh_token, expires_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, NOW(), NOW())
		ON CONFLICT (merchant_id) DO UPDATE SET
			location_id = EXCLUDED.location_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			is_active = true,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, conn.ID, conn.MerchantID, conn.LocationID, conn.AccessToken, conn.RefreshToken, conn.ExpiresAt)
	return err
}

func (r *connectionRepo) UpdateTokens(ctx context.Context, merchantID, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE square_connections
		SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = NOW()
		WHERE merchant_id = $4
	`
	tag, err := r.db.Exec(ctx, query, accessToken, refreshToken, expiresAt, merchantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionRepo) Deactivate(ctx context.Context, merchantID string) error {
	query := `
		UPDATE square_connections
		SET is_active = false, updated_at = NOW()
		WHERE merchant_id = $1
	`
	_, err := r.db.Exec(ctx, query, merchantID)
	return err
}

func (r *connectionRepo) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.SquareConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM square_connections
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < $1
	`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.SquareConnection
	for rows.Next() {
		conn := &models.SquareConnection{}
		if err := rows.Scan(&conn.ID, &conn.MerchantID, &conn.LocationID, &conn.AccessToken, &conn.RefreshToken, &conn.ExpiresAt, &conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}
