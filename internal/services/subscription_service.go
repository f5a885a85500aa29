package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"shulpad/internal/caching"
	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
)

// ErrInvalidPromo is returned when a supplied promo code does not exist
// or is no longer redeemable.
var ErrInvalidPromo = errors.New("promo code is not valid")

// ErrAlreadySubscribed is returned when a create request arrives for a
// merchant that already holds an active or paused subscription.
var ErrAlreadySubscribed = errors.New("merchant already has an active subscription")

// ErrNotConnected is returned when the merchant has no active Square
// connection.
var ErrNotConnected = errors.New("merchant is not connected to Square")

// SubscriptionService owns the subscription lifecycle: price preview,
// create, cancel, status reconciliation, and plan changes.
type SubscriptionService interface {
	ValidatePrice(ctx context.Context, merchantID, planType string, deviceCount int, promoCode string) (*PriceQuote, error)
	Create(ctx context.Context, req *CreateSubscriptionParams) (*models.Subscription, *PriceQuote, error)
	Cancel(ctx context.Context, merchantID string) (*CancelResult, error)
	Status(ctx context.Context, merchantID string) (*StatusResult, error)
	UpdatePlan(ctx context.Context, req *UpdatePlanParams) (*models.Subscription, error)
}

// CreateSubscriptionParams is the validated input for Create.
type CreateSubscriptionParams struct {
	MerchantID    string
	PlanType      string
	DeviceCount   int
	CustomerEmail string
	CustomerName  string
	SourceID      string
	PromoCode     string
}

// UpdatePlanParams is the validated input for UpdatePlan. SourceID and
// CustomerEmail are required for paid plans because a plan change swaps
// the Square subscription rather than modifying it in place.
type UpdatePlanParams struct {
	MerchantID    string
	PlanType      string
	DeviceCount   int
	CustomerEmail string
	SourceID      string
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	Subscription    *models.Subscription `json:"subscription"`
	ServiceEndsDate *time.Time           `json:"service_ends_date"`
	Message         string               `json:"message"`
}

// StatusResult is the stable response contract the kiosk app depends on.
type StatusResult struct {
	Subscription    *models.Subscription `json:"subscription"`
	CanUseKiosk     bool                 `json:"can_use_kiosk"`
	GracePeriodEnds *time.Time           `json:"grace_period_ends"`
	Message         string               `json:"message"`
	UrgencyLevel    string               `json:"urgency_level"`
	StatusReason    string               `json:"status_reason"`
	Error           string               `json:"error"`
}

type subscriptionService struct {
	connectionRepo   repositories.ConnectionRepository
	subscriptionRepo repositories.SubscriptionRepository
	promoRepo        repositories.PromoCodeRepository
	deviceRepo       repositories.DeviceRepository
	eventRepo        repositories.EventRepository
	squareSvc        SquareService
	cacheSvc         caching.CacheService
}

func NewSubscriptionService(
	connectionRepo repositories.ConnectionRepository,
	subscriptionRepo repositories.SubscriptionRepository,
	promoRepo repositories.PromoCodeRepository,
	deviceRepo repositories.DeviceRepository,
	eventRepo repositories.EventRepository,
	squareSvc SquareService,
	cacheSvc caching.CacheService,
) SubscriptionService {
	return &subscriptionService{
		connectionRepo:   connectionRepo,
		subscriptionRepo: subscriptionRepo,
		promoRepo:        promoRepo,
		deviceRepo:       deviceRepo,
		eventRepo:        eventRepo,
		squareSvc:        squareSvc,
		cacheSvc:         cacheSvc,
	}
}

// DeriveAccess decides whether the kiosk keeps working given a local
// status and the date service is paid through. Canceled subscriptions
// retain access until the paid-through date passes.
func DeriveAccess(status string, serviceEnds *time.Time, now time.Time) (canUse bool, urgency, reason string) {
	switch status {
	case models.SubscriptionStatusActive:
		return true, "none", "active"
	case models.SubscriptionStatusCanceled:
		if serviceEnds != nil && serviceEnds.After(now) {
			return true, "warning", "canceled_grace_period"
		}
		return false, "critical", "canceled_expired"
	case models.SubscriptionStatusPaused:
		return false, "warning", "paused"
	case models.SubscriptionStatusDeactivated:
		return false, "critical", "deactivated"
	default:
		return false, "info", "pending"
	}
}

// resolveTrialPromo decides which discount applies. Trial eligibility
// is checked first and short-circuits the promo lookup.
func (s *subscriptionService) resolveTrialPromo(ctx context.Context, conn *models.SquareConnection, promoCode string) (bool, *models.PromoCode, error) {
	now := time.Now()
	if conn.TrialEligible(now) {
		return true, nil, nil
	}
	if promoCode == "" {
		return false, nil, nil
	}
	promo, err := s.promoRepo.GetByCode(ctx, promoCode)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, nil, ErrInvalidPromo
		}
		return false, nil, err
	}
	if !promo.Redeemable(now) {
		return false, nil, ErrInvalidPromo
	}
	return false, promo, nil
}

func (s *subscriptionService) ValidatePrice(ctx context.Context, merchantID, planType string, deviceCount int, promoCode string) (*PriceQuote, error) {
	conn, err := s.connectionRepo.GetByMerchantID(ctx, merchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	trial, promo, err := s.resolveTrialPromo(ctx, conn, promoCode)
	if err != nil {
		return nil, err
	}
	return CalculatePrice(planType, deviceCount, trial, promo)
}

func periodEnd(start time.Time, planType string) time.Time {
	if planType == models.PlanTypeYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func (s *subscriptionService) Create(ctx context.Context, req *CreateSubscriptionParams) (*models.Subscription, *PriceQuote, error) {
	conn, err := s.connectionRepo.GetByMerchantID(ctx, req.MerchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, ErrNotConnected
		}
		return nil, nil, err
	}

	// The unique index on merchant_id is the real guard against two
	// concurrent creates; this pre-check turns the common sequential
	// case into a clean error instead of a constraint violation.
	if _, err := s.subscriptionRepo.GetCurrentForMerchant(ctx, req.MerchantID); err == nil {
		return nil, nil, ErrAlreadySubscribed
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, err
	}

	trial, promo, err := s.resolveTrialPromo(ctx, conn, req.PromoCode)
	if err != nil {
		return nil, nil, err
	}
	quote, err := CalculatePrice(req.PlanType, req.DeviceCount, trial, promo)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	end := periodEnd(now, req.PlanType)
	sub := &models.Subscription{
		ID:                  uuid.New(),
		MerchantID:          req.MerchantID,
		PlanType:            req.PlanType,
		DeviceCount:         req.DeviceCount,
		BasePriceCents:      quote.BasePriceCents,
		TotalPriceCents:     quote.FinalPriceCents,
		DiscountAmountCents: quote.DiscountCents,
		CurrentPeriodStart:  &now,
		CurrentPeriodEnd:    &end,
	}
	if promo != nil {
		sub.PromoCodeUsed = &promo.Code
	}

	if quote.FinalPriceCents == 0 {
		// Free or trial subscription: local record only, no Square
		// customer/card/subscription calls.
		localID := "free_" + random.String(16)
		sub.SquareSubscriptionID = &localID
		sub.Status = models.SubscriptionStatusActive
	} else {
		sqSub, err := s.createSquareSubscription(ctx, conn, req, quote)
		if err != nil {
			return nil, nil, err
		}
		sub.SquareSubscriptionID = &sqSub.ID
		sub.Status = models.StatusFromSquare(sqSub.Status)
		if sqSub.ChargedThroughDate != "" {
			if t, perr := time.Parse("2006-01-02", sqSub.ChargedThroughDate); perr == nil {
				sub.CurrentPeriodEnd = &t
			}
		}
	}

	var redeemedCode *string
	if promo != nil {
		redeemedCode = &promo.Code
	}
	if err := s.subscriptionRepo.PersistCreate(ctx, sub, redeemedCode); err != nil {
		return nil, nil, fmt.Errorf("persist subscription: %w", err)
	}

	s.appendEvent(ctx, sub, "created", quote.Reason)

	device := &models.Device{ID: uuid.New(), MerchantID: req.MerchantID}
	if err := s.deviceRepo.Register(ctx, device); err != nil {
		log.Printf("WARN: failed to register device for merchant %s: %v", req.MerchantID, err)
	}

	return sub, quote, nil
}

// createSquareSubscription runs the customer -> card -> subscription
// chain for a paid plan.
func (s *subscriptionService) createSquareSubscription(ctx context.Context, conn *models.SquareConnection, req *CreateSubscriptionParams, quote *PriceQuote) (*SquareSubscription, error) {
	planVariationID, err := s.planVariationID(ctx, conn, req.PlanType)
	if err != nil {
		return nil, err
	}

	customerID, err := s.squareSvc.CreateCustomer(ctx, conn.AccessToken, req.CustomerEmail, req.CustomerName)
	if err != nil {
		return nil, err
	}
	cardID, err := s.squareSvc.CreateCardOnFile(ctx, conn.AccessToken, customerID, req.SourceID, random.String(24))
	if err != nil {
		return nil, err
	}

	locationID := ""
	if conn.LocationID != nil {
		locationID = *conn.LocationID
	}
	return s.squareSvc.CreateSubscription(ctx, conn.AccessToken, &CreateSquareSubscriptionRequest{
		LocationID:         locationID,
		PlanVariationID:    planVariationID,
		CustomerID:         customerID,
		CardID:             cardID,
		PriceOverrideCents: quote.FinalPriceCents,
		StartDate:          time.Now().Format("2006-01-02"),
		IdempotencyKey:     random.String(24),
	})
}

// planVariationID returns the cached Square plan variation for the plan
// type, creating the catalog plan on a cache miss. Cache writes are
// best-effort.
func (s *subscriptionService) planVariationID(ctx context.Context, conn *models.SquareConnection, planType string) (string, error) {
	cached, err := s.cacheSvc.GetPlanVariation(ctx, conn.MerchantID, planType)
	if err != nil {
		log.Printf("WARN: plan variation cache read failed: %v", err)
	}
	if cached != "" {
		return cached, nil
	}

	cadence := "MONTHLY"
	planName := "ShulPad Monthly"
	if planType == models.PlanTypeYearly {
		cadence = "ANNUAL"
		planName = "ShulPad Yearly"
	}
	variationID, err := s.squareSvc.CreateSubscriptionPlan(ctx, conn.AccessToken, planName, cadence, random.String(24))
	if err != nil {
		return "", err
	}
	if err := s.cacheSvc.SetPlanVariation(ctx, conn.MerchantID, planType, variationID); err != nil {
		log.Printf("WARN: plan variation cache write failed: %v", err)
	}
	return variationID, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, merchantID string) (*CancelResult, error) {
	sub, err := s.subscriptionRepo.GetLatestForMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sub.IsLocal() {
		// Free/trial subscriptions cancel purely locally and lose
		// access immediately.
		if sub.Status != models.SubscriptionStatusCanceled {
			sub.Status = models.SubscriptionStatusCanceled
			sub.CanceledAt = &now
			sub.GracePeriodStart = &now
			sub.CurrentPeriodEnd = nil
			if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
				return nil, err
			}
			s.appendEvent(ctx, sub, "canceled", "local cancellation")
		}
		return &CancelResult{
			Subscription: sub,
			Message:      "Subscription canceled. Kiosk access has ended.",
		}, nil
	}

	conn, err := s.connectionRepo.GetByMerchantID(ctx, merchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}

	var serviceEnds *time.Time
	sqSub, cancelErr := s.squareSvc.CancelSubscription(ctx, conn.AccessToken, *sub.SquareSubscriptionID)
	if cancelErr != nil {
		pendingDate, ok := ParsePendingCancelDate(cancelErr)
		if !ok {
			return nil, fmt.Errorf("cancel subscription: %w", cancelErr)
		}
		// Square already has a cancel scheduled; treat as success and
		// adopt its end date when one could be recovered.
		if !pendingDate.IsZero() {
			serviceEnds = &pendingDate
		}
	} else {
		serviceEnds = subscriptionEndDate(sqSub)
	}

	sub.Status = models.SubscriptionStatusCanceled
	if sub.CanceledAt == nil {
		sub.CanceledAt = &now
	}
	if sub.GracePeriodStart == nil {
		sub.GracePeriodStart = sub.CanceledAt
	}
	if serviceEnds != nil {
		sub.CurrentPeriodEnd = serviceEnds
	}
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, sub, "canceled", "")

	message := "Subscription canceled."
	if sub.CurrentPeriodEnd != nil {
		message = fmt.Sprintf("Subscription canceled. Kiosk access continues until %s.", sub.CurrentPeriodEnd.Format("2006-01-02"))
	}
	return &CancelResult{
		Subscription:    sub,
		ServiceEndsDate: sub.CurrentPeriodEnd,
		Message:         message,
	}, nil
}

// subscriptionEndDate picks the date service ends from a Square
// subscription: charged_through_date when present, else canceled_date.
func subscriptionEndDate(sq *SquareSubscription) *time.Time {
	for _, raw := range []string{sq.ChargedThroughDate, sq.CanceledDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return &t
		}
	}
	return nil
}

func (s *subscriptionService) Status(ctx context.Context, merchantID string) (*StatusResult, error) {
	sub, err := s.subscriptionRepo.GetLatestForMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	status := sub.Status
	serviceEnds := sub.CurrentPeriodEnd
	message := ""

	if !sub.IsLocal() {
		remote, remoteErr := s.fetchRemote(ctx, merchantID, *sub.SquareSubscriptionID)
		if remoteErr != nil {
			// Status must stay best-effort: fall back to the local row.
			log.Printf("WARN: status reconciliation for merchant %s using cached data: %v", merchantID, remoteErr)
			message = "Using cached subscription data; Square was unreachable."
		} else {
			status = models.StatusFromSquare(remote.Status)
			if remoteEnds := subscriptionEndDate(remote); remoteEnds != nil {
				serviceEnds = remoteEnds
			}
		}
	}

	canUse, urgency, reason := DeriveAccess(status, serviceEnds, now)

	// Self-healing cache: persist whatever reconciliation found.
	if status != sub.Status || !equalTimePtr(serviceEnds, sub.CurrentPeriodEnd) {
		sub.Status = status
		sub.CurrentPeriodEnd = serviceEnds
		if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
			log.Printf("WARN: failed to persist reconciled status for merchant %s: %v", merchantID, err)
		}
	}

	var graceEnds *time.Time
	if status == models.SubscriptionStatusCanceled && serviceEnds != nil {
		graceEnds = serviceEnds
	}
	if message == "" {
		message = statusMessage(reason, serviceEnds)
	}

	return &StatusResult{
		Subscription:    sub,
		CanUseKiosk:     canUse,
		GracePeriodEnds: graceEnds,
		Message:         message,
		UrgencyLevel:    urgency,
		StatusReason:    reason,
	}, nil
}

func (s *subscriptionService) fetchRemote(ctx context.Context, merchantID, squareSubscriptionID string) (*SquareSubscription, error) {
	conn, err := s.connectionRepo.GetByMerchantID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return s.squareSvc.GetSubscription(ctx, conn.AccessToken, squareSubscriptionID)
}

func statusMessage(reason string, serviceEnds *time.Time) string {
	switch reason {
	case "active":
		return "Subscription is active."
	case "canceled_grace_period":
		return fmt.Sprintf("Subscription canceled; kiosk works until %s.", serviceEnds.Format("2006-01-02"))
	case "canceled_expired":
		return "Subscription has ended."
	case "paused":
		return "Subscription is paused."
	case "deactivated":
		return "Square access was revoked; please reconnect."
	default:
		return "Subscription is pending."
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (s *subscriptionService) UpdatePlan(ctx context.Context, req *UpdatePlanParams) (*models.Subscription, error) {
	sub, err := s.subscriptionRepo.GetLatestForMerchant(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}
	conn, err := s.connectionRepo.GetByMerchantID(ctx, req.MerchantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}

	trial, _, err := s.resolveTrialPromo(ctx, conn, "")
	if err != nil {
		return nil, err
	}
	quote, err := CalculatePrice(req.PlanType, req.DeviceCount, trial, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	end := periodEnd(now, req.PlanType)

	if sub.IsLocal() && quote.FinalPriceCents == 0 {
		// Still free: update the local row in place.
		sub.PlanType = req.PlanType
		sub.DeviceCount = req.DeviceCount
		sub.BasePriceCents = quote.BasePriceCents
		sub.TotalPriceCents = quote.FinalPriceCents
		sub.DiscountAmountCents = quote.DiscountCents
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &end
		if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
			return nil, err
		}
		s.appendEvent(ctx, sub, "plan_changed", quote.Reason)
		return sub, nil
	}

	// Paid plans have no modify-in-place: cancel the old Square
	// subscription and create a replacement at the new price.
	if !sub.IsLocal() {
		if _, cancelErr := s.squareSvc.CancelSubscription(ctx, conn.AccessToken, *sub.SquareSubscriptionID); cancelErr != nil {
			if _, ok := ParsePendingCancelDate(cancelErr); !ok {
				return nil, fmt.Errorf("cancel old subscription: %w", cancelErr)
			}
		}
	}

	createReq := &CreateSubscriptionParams{
		MerchantID:    req.MerchantID,
		PlanType:      req.PlanType,
		DeviceCount:   req.DeviceCount,
		CustomerEmail: req.CustomerEmail,
		SourceID:      req.SourceID,
	}
	sqSub, err := s.createSquareSubscription(ctx, conn, createReq, quote)
	if err != nil {
		return nil, err
	}

	sub.SquareSubscriptionID = &sqSub.ID
	sub.Status = models.StatusFromSquare(sqSub.Status)
	sub.PlanType = req.PlanType
	sub.DeviceCount = req.DeviceCount
	sub.BasePriceCents = quote.BasePriceCents
	sub.TotalPriceCents = quote.FinalPriceCents
	sub.DiscountAmountCents = quote.DiscountCents
	sub.CurrentPeriodStart = &now
	sub.CurrentPeriodEnd = &end
	sub.CanceledAt = nil
	sub.GracePeriodStart = nil
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, sub, "plan_changed", quote.Reason)
	return sub, nil
}

// appendEvent writes an audit row; failures never block the primary
// operation.
func (s *subscriptionService) appendEvent(ctx context.Context, sub *models.Subscription, eventType, detail string) {
	ev := &models.SubscriptionEvent{
		ID:                   uuid.New(),
		MerchantID:           sub.MerchantID,
		SquareSubscriptionID: sub.SquareSubscriptionID,
		EventType:            eventType,
		Status:               sub.Status,
	}
	if detail != "" {
		ev.Detail = &detail
	}
	if err := s.eventRepo.AppendSubscriptionEvent(ctx, ev); err != nil {
		log.Printf("WARN: failed to append subscription event for merchant %s: %v", sub.MerchantID, err)
	}
}
