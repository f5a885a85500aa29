package repositories

import (
	"context"
	"errors"

	"shulpad/internal/models"

	"github.com/jackc/pgx/v5"
)

type ReceiptLogRepository interface {
	Create(ctx context.Context, receipt *models.ReceiptLog) error
	MarkSent(ctx context.Context, id string, pdfObjectKey *string) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
	GetByID(ctx context.Context, id string) (*models.ReceiptLog, error)
}

type receiptLogRepo struct {
	db DBTX
}

func NewReceiptLogRepository(db DBTX) ReceiptLogRepository {
	return &receiptLogRepo{db: db}
}

func (r *receiptLogRepo) Create(ctx context.Context, receipt *models.ReceiptLog) error {
	query := `
		INSERT INTO receipt_logs (id, organization_id, donor_email, amount_cents, delivery_status, retry_count, error_message, pdf_object_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, receipt.ID, receipt.OrganizationID, receipt.DonorEmail, receipt.AmountCents, receipt.DeliveryStatus, receipt.RetryCount, receipt.ErrorMessage, receipt.PDFObjectKey)
	return err
}

func (r *receiptLogRepo) MarkSent(ctx context.Context, id string, pdfObjectKey *string) error {
	query := `
		UPDATE receipt_logs
		SET delivery_status = 'sent', error_message = NULL, pdf_object_key = COALESCE($1, pdf_object_key), updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.Exec(ctx, query, pdfObjectKey, id)
	return err
}

func (r *receiptLogRepo) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	query := `
		UPDATE receipt_logs
		SET delivery_status = 'failed', retry_count = retry_count + 1, error_message = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.Exec(ctx, query, errorMessage, id)
	return err
}

func (r *receiptLogRepo) GetByID(ctx context.Context, id string) (*models.ReceiptLog, error) {
	receipt := &models.ReceiptLog{}
	query := `
		SELECT id, organization_id, donor_email, amount_cents, delivery_status, retry_count, error_message, pdf_object_key, created_at, updated_at
		FROM receipt_logs
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&receipt.ID, &receipt.OrganizationID, &receipt.DonorEmail, &receipt.AmountCents, &receipt.DeliveryStatus, &receipt.RetryCount, &receipt.ErrorMessage, &receipt.PDFObjectKey, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return receipt, nil
}
