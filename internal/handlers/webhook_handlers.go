package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// WebhookHandlers receives Square webhook deliveries. Every event is
// recorded keyed by Square's event id, so redeliveries are detected and
// side effects run at most once.
type WebhookHandlers struct {
	eventRepo        repositories.EventRepository
	connectionRepo   repositories.ConnectionRepository
	settingsRepo     repositories.KioskSettingsRepository
	subscriptionRepo repositories.SubscriptionRepository
	donationRepo     repositories.DonationRepository
	signatureKey     string
	notificationURL  string
}

func NewWebhookHandlers(
	eventRepo repositories.EventRepository,
	connectionRepo repositories.ConnectionRepository,
	settingsRepo repositories.KioskSettingsRepository,
	subscriptionRepo repositories.SubscriptionRepository,
	donationRepo repositories.DonationRepository,
	signatureKey string,
	notificationURL string,
) *WebhookHandlers {
	return &WebhookHandlers{
		eventRepo:        eventRepo,
		connectionRepo:   connectionRepo,
		settingsRepo:     settingsRepo,
		subscriptionRepo: subscriptionRepo,
		donationRepo:     donationRepo,
		signatureKey:     signatureKey,
		notificationURL:  notificationURL,
	}
}

// webhookEnvelope is the common shape of a Square webhook delivery.
type webhookEnvelope struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	MerchantID string `json:"merchant_id"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// verifySignature checks the x-square-signature header: base64 of the
// HMAC-SHA1 of the notification URL concatenated with the raw body.
func (h *WebhookHandlers) verifySignature(signature string, body []byte) bool {
	mac := hmac.New(sha1.New, []byte(h.signatureKey))
	mac.Write([]byte(h.notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Receive handles POST /api/webhooks/square. Always responds 200 for
// recognized-but-unhandled event types so Square does not retry them
// forever.
func (h *WebhookHandlers) Receive(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to read request body")
	}

	if h.signatureKey == "" {
		// Running without a signature key is allowed for local setups
		// but loudly discouraged.
		log.Printf("WARN: webhook signature key not configured, accepting unverified delivery")
	} else if !h.verifySignature(c.Request().Header.Get("x-square-signature"), body) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid webhook signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid webhook payload")
	}
	if envelope.EventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing event_id")
	}

	firstDelivery, err := h.eventRepo.UpsertWebhookEvent(ctx, &models.WebhookEvent{
		ID:         uuid.New(),
		EventID:    envelope.EventID,
		EventType:  envelope.Type,
		MerchantID: envelope.MerchantID,
		Payload:    body,
	})
	if err != nil {
		log.Printf("WARN: failed to record webhook event %s: %v", envelope.EventID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to record event")
	}
	if !firstDelivery {
		return c.JSON(http.StatusOK, map[string]string{"status": "already_processed"})
	}

	if err := h.dispatch(ctx, &envelope); err != nil {
		log.Printf("WARN: webhook %s (%s) processing failed: %v", envelope.EventID, envelope.Type, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Event processing failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

func (h *WebhookHandlers) dispatch(ctx context.Context, envelope *webhookEnvelope) error {
	switch {
	case envelope.Type == "oauth.authorization.revoked":
		return h.connectionRepo.Deactivate(ctx, envelope.MerchantID)

	case envelope.Type == "catalog.version.updated":
		return h.settingsRepo.TouchCatalogSync(ctx, envelope.MerchantID, time.Now())

	case strings.HasPrefix(envelope.Type, "payment."):
		return h.handlePayment(ctx, envelope)

	case strings.HasPrefix(envelope.Type, "order."):
		return h.handleOrder(ctx, envelope)

	case strings.HasPrefix(envelope.Type, "subscription."):
		return h.handleSubscription(ctx, envelope)

	case envelope.Type == "invoice.payment_made":
		return h.handleInvoicePaid(ctx, envelope)

	default:
		log.Printf("DEBUG: ignoring webhook event type %s", envelope.Type)
		return nil
	}
}

func (h *WebhookHandlers) handlePayment(ctx context.Context, envelope *webhookEnvelope) error {
	var wrapper struct {
		Payment struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			AmountMoney struct {
				Amount int64 `json:"amount"`
			} `json:"amount_money"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &wrapper); err != nil {
		return fmt.Errorf("parse payment object: %w", err)
	}
	if wrapper.Payment.ID == "" {
		return fmt.Errorf("payment event missing payment id")
	}
	return h.eventRepo.UpsertPaymentEvent(ctx, &models.PaymentEvent{
		ID:              uuid.New(),
		SquarePaymentID: wrapper.Payment.ID,
		MerchantID:      envelope.MerchantID,
		Status:          wrapper.Payment.Status,
		AmountCents:     wrapper.Payment.AmountMoney.Amount,
	})
}

func (h *WebhookHandlers) handleOrder(ctx context.Context, envelope *webhookEnvelope) error {
	var wrapper struct {
		Order struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"order"`
		// order.updated delivers a slimmer shape without the nested
		// order wrapper.
		OrderUpdated struct {
			OrderID string `json:"order_id"`
			State   string `json:"state"`
		} `json:"order_updated"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &wrapper); err != nil {
		return fmt.Errorf("parse order object: %w", err)
	}
	orderID, state := wrapper.Order.ID, wrapper.Order.State
	if orderID == "" {
		orderID, state = wrapper.OrderUpdated.OrderID, wrapper.OrderUpdated.State
	}
	if orderID == "" {
		return fmt.Errorf("order event missing order id")
	}
	return h.eventRepo.UpsertOrderEvent(ctx, &models.OrderEvent{
		ID:            uuid.New(),
		SquareOrderID: orderID,
		MerchantID:    envelope.MerchantID,
		State:         state,
	})
}

// handleSubscription reconciles the local subscription row with the
// status Square pushed, and appends an audit event.
func (h *WebhookHandlers) handleSubscription(ctx context.Context, envelope *webhookEnvelope) error {
	var wrapper struct {
		Subscription struct {
			ID                 string `json:"id"`
			Status             string `json:"status"`
			ChargedThroughDate string `json:"charged_through_date"`
			CanceledDate       string `json:"canceled_date"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &wrapper); err != nil {
		return fmt.Errorf("parse subscription object: %w", err)
	}
	if wrapper.Subscription.ID == "" {
		return fmt.Errorf("subscription event missing subscription id")
	}

	sub, err := h.subscriptionRepo.GetLatestForMerchant(ctx, envelope.MerchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Webhook for a merchant we have no subscription row for;
			// record the audit event and move on.
			log.Printf("WARN: subscription webhook for unknown merchant %s", envelope.MerchantID)
			return nil
		}
		return err
	}
	if sub.SquareSubscriptionID == nil || *sub.SquareSubscriptionID != wrapper.Subscription.ID {
		// A stale webhook for a replaced subscription must not clobber
		// the current one.
		log.Printf("DEBUG: subscription webhook %s does not match current subscription for merchant %s", wrapper.Subscription.ID, envelope.MerchantID)
		return nil
	}

	sub.Status = models.StatusFromSquare(wrapper.Subscription.Status)
	for _, raw := range []string{wrapper.Subscription.ChargedThroughDate, wrapper.Subscription.CanceledDate} {
		if raw == "" {
			continue
		}
		if t, perr := time.Parse("2006-01-02", raw); perr == nil {
			sub.CurrentPeriodEnd = &t
			break
		}
	}
	if err := h.subscriptionRepo.Update(ctx, sub); err != nil {
		return err
	}

	detail := envelope.Type
	return h.eventRepo.AppendSubscriptionEvent(ctx, &models.SubscriptionEvent{
		ID:                   uuid.New(),
		MerchantID:           envelope.MerchantID,
		SquareSubscriptionID: &wrapper.Subscription.ID,
		EventType:            "webhook",
		Status:               sub.Status,
		Detail:               &detail,
	})
}

// handleInvoicePaid records the invoice and the matching donation row.
// The donation insert is keyed on the invoice id so a replayed delivery
// cannot double-count.
func (h *WebhookHandlers) handleInvoicePaid(ctx context.Context, envelope *webhookEnvelope) error {
	var wrapper struct {
		Invoice struct {
			ID              string `json:"id"`
			SubscriptionID  string `json:"subscription_id"`
			Status          string `json:"status"`
			PaymentRequests []struct {
				TotalCompletedAmountMoney struct {
					Amount int64 `json:"amount"`
				} `json:"total_completed_amount_money"`
			} `json:"payment_requests"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &wrapper); err != nil {
		return fmt.Errorf("parse invoice object: %w", err)
	}
	if wrapper.Invoice.ID == "" {
		return fmt.Errorf("invoice event missing invoice id")
	}

	var amountCents int64
	for _, pr := range wrapper.Invoice.PaymentRequests {
		amountCents += pr.TotalCompletedAmountMoney.Amount
	}

	if err := h.eventRepo.UpsertSubscriptionInvoice(ctx, &models.SubscriptionInvoice{
		ID:                   uuid.New(),
		SquareInvoiceID:      wrapper.Invoice.ID,
		SquareSubscriptionID: wrapper.Invoice.SubscriptionID,
		MerchantID:           envelope.MerchantID,
		Status:               wrapper.Invoice.Status,
		AmountCents:          amountCents,
	}); err != nil {
		return err
	}

	invoiceID := wrapper.Invoice.ID
	inserted, err := h.donationRepo.CreateIfAbsent(ctx, &models.Donation{
		ID:             uuid.New(),
		MerchantID:     envelope.MerchantID,
		AmountCents:    amountCents,
		Source:         "subscription_invoice",
		SquareObjectID: &invoiceID,
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Printf("DEBUG: donation for invoice %s already recorded", invoiceID)
	}
	return nil
}
