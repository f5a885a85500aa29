package repositories

import (
	"context"

	"shulpad/internal/models"
)

// EventRepository persists the webhook audit row and the Square object
// mirrors. All upserts key on the Square-side id so redeliveries are
// no-ops.
type EventRepository interface {
	// UpsertWebhookEvent records the delivery and reports whether this
	// event id was seen for the first time.
	UpsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (firstDelivery bool, err error)
	UpsertPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	UpsertOrderEvent(ctx context.Context, event *models.OrderEvent) error
	UpsertSubscriptionInvoice(ctx context.Context, invoice *models.SubscriptionInvoice) error
	AppendSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error
}

type eventRepo struct {
	db DBTX
}

func NewEventRepository(db DBTX) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) UpsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (id, event_id, event_type, merchant_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (event_id) DO UPDATE SET received_at = NOW()
		RETURNING (xmax = 0)
	`
	var inserted bool
	err := r.db.QueryRow(ctx, query, event.ID, event.EventID, event.EventType, event.MerchantID, event.Payload).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *eventRepo) UpsertPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (id, square_payment_id, merchant_id, status, amount_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (square_payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_cents = EXCLUDED.amount_cents,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.SquarePaymentID, event.MerchantID, event.Status, event.AmountCents)
	return err
}

func (r *eventRepo) UpsertOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	query := `
		INSERT INTO order_events (id, square_order_id, merchant_id, state, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (square_order_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.SquareOrderID, event.MerchantID, event.State)
	return err
}

func (r *eventRepo) UpsertSubscriptionInvoice(ctx context.Context, invoice *models.SubscriptionInvoice) error {
	query := `
		INSERT INTO subscription_invoices (id, square_invoice_id, square_subscription_id, merchant_id, status, amount_cents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (square_invoice_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_cents = EXCLUDED.amount_cents,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, invoice.ID, invoice.SquareInvoiceID, invoice.SquareSubscriptionID, invoice.MerchantID, invoice.Status, invoice.AmountCents)
	return err
}

func (r *eventRepo) AppendSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	query := `
		INSERT INTO subscription_events (id, merchant_id, square_subscription_id, event_type, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.MerchantID, event.SquareSubscriptionID, event.EventType, event.Status, event.Detail)
	return err
}
