package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"shulpad/internal/models"
	"shulpad/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
)

// Sync outcome statuses.
const (
	SyncStatusSynced  = "synced"
	SyncStatusSkipped = "skipped"
	SyncStatusFailed  = "failed"
)

// originalAmountAttr names the variation metadata key that preserves
// the pre-fee donation amount.
const originalAmountAttr = "original_amount_cents"

// SyncResult reports one organization's sync outcome.
type SyncResult struct {
	OrganizationID  string `json:"organization_id"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	CatalogParentID string `json:"catalog_parent_id,omitempty"`
	SyncedCount     int    `json:"synced_count"`
}

// CatalogService mirrors preset donation amounts into Square's catalog.
type CatalogService interface {
	SyncOrganization(ctx context.Context, organizationID string, force bool) (*SyncResult, error)
	// SyncAll drains every pending mailbox; one organization failing
	// does not stop the rest.
	SyncAll(ctx context.Context, force bool) ([]*SyncResult, error)
	ListPresets(ctx context.Context, organizationID string) ([]*models.PresetDonation, error)
}

type catalogService struct {
	settingsRepo   repositories.KioskSettingsRepository
	presetRepo     repositories.PresetDonationRepository
	connectionRepo repositories.ConnectionRepository
	syncStore      repositories.CatalogSyncStore
	squareSvc      SquareService
}

func NewCatalogService(
	settingsRepo repositories.KioskSettingsRepository,
	presetRepo repositories.PresetDonationRepository,
	connectionRepo repositories.ConnectionRepository,
	syncStore repositories.CatalogSyncStore,
	squareSvc SquareService,
) CatalogService {
	return &catalogService{
		settingsRepo:   settingsRepo,
		presetRepo:     presetRepo,
		connectionRepo: connectionRepo,
		syncStore:      syncStore,
		squareSvc:      squareSvc,
	}
}

func (s *catalogService) ListPresets(ctx context.Context, organizationID string) ([]*models.PresetDonation, error) {
	return s.presetRepo.ListByOrganization(ctx, organizationID)
}

// listedPriceCents computes the catalog price for a donation amount.
// With fee passthrough the donor covers the processing fee, so the
// listed price is inflated and the true amount rides in metadata.
func listedPriceCents(amount int64, settings *models.KioskSettings) int64 {
	if !settings.ProcessingFeeEnabled {
		return amount
	}
	fee := int64(math.Round(float64(amount) * settings.ProcessingFeePercentage / 100.0))
	return amount + fee + settings.ProcessingFeeFixedCents
}

func (s *catalogService) SyncOrganization(ctx context.Context, organizationID string, force bool) (*SyncResult, error) {
	settings, err := s.settingsRepo.GetByOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load kiosk settings: %w", err)
	}

	if len(settings.PresetAmounts) == 0 {
		return &SyncResult{
			OrganizationID: organizationID,
			Status:         SyncStatusSkipped,
			Reason:         "no preset amounts pending sync",
		}, nil
	}

	conn, err := s.connectionRepo.GetByMerchantID(ctx, organizationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return s.failure(organizationID, "organization has no active Square connection"), nil
		}
		return nil, err
	}

	parentID, err := s.ensureParent(ctx, conn.AccessToken, settings, force)
	if err != nil {
		return s.failure(organizationID, fmt.Sprintf("catalog parent: %v", err)), nil
	}

	variations := buildVariations(parentID, settings)
	// One idempotency key per sync attempt: the batch is all-or-nothing
	// from our perspective.
	result, err := s.squareSvc.BatchUpsertCatalogObjects(ctx, conn.AccessToken, random.String(24), variations)
	if err != nil {
		return s.failure(organizationID, fmt.Sprintf("batch upsert: %v", err)), nil
	}

	if len(result.Objects) == 0 {
		// Newly created parents occasionally are not visible yet.
		// Recreate the parent and retry once before giving up.
		log.Printf("WARN: catalog sync for %s returned zero objects, recreating parent and retrying", organizationID)
		parentID, err = s.createParent(ctx, conn.AccessToken)
		if err != nil {
			return s.failure(organizationID, fmt.Sprintf("recreate catalog parent: %v", err)), nil
		}
		variations = buildVariations(parentID, settings)
		result, err = s.squareSvc.BatchUpsertCatalogObjects(ctx, conn.AccessToken, random.String(24), variations)
		if err != nil {
			return s.failure(organizationID, fmt.Sprintf("batch upsert retry: %v", err)), nil
		}
		if len(result.Objects) == 0 {
			return s.failure(organizationID, "catalog upsert returned no objects after retry"), nil
		}
	}

	presets, err := matchPresets(organizationID, parentID, settings, result.Objects)
	if err != nil {
		return s.failure(organizationID, err.Error()), nil
	}

	if err := s.syncStore.ApplySyncResult(ctx, organizationID, parentID, presets, time.Now()); err != nil {
		return s.failure(organizationID, fmt.Sprintf("persist sync result: %v", err)), nil
	}

	return &SyncResult{
		OrganizationID:  organizationID,
		Status:          SyncStatusSynced,
		CatalogParentID: parentID,
		SyncedCount:     len(presets),
	}, nil
}

func (s *catalogService) failure(organizationID, reason string) *SyncResult {
	return &SyncResult{
		OrganizationID: organizationID,
		Status:         SyncStatusFailed,
		Reason:         reason,
	}
}

// ensureParent returns a catalog item id that is known to exist,
// creating a fresh "Donations" item when the stored one is missing,
// stale, or a forced resync was requested.
func (s *catalogService) ensureParent(ctx context.Context, accessToken string, settings *models.KioskSettings, force bool) (string, error) {
	if settings.CatalogParentID != nil && !force {
		exists, err := s.squareSvc.ValidateCatalogObject(ctx, accessToken, *settings.CatalogParentID)
		if err != nil {
			return "", err
		}
		if exists {
			return *settings.CatalogParentID, nil
		}
		// Item was deleted behind our back, usually in the Square
		// dashboard. Forget it locally and start over.
		if err := s.settingsRepo.ClearCatalogParent(ctx, settings.OrganizationID); err != nil {
			log.Printf("WARN: failed to clear stale catalog parent for %s: %v", settings.OrganizationID, err)
		}
	}
	return s.createParent(ctx, accessToken)
}

func (s *catalogService) createParent(ctx context.Context, accessToken string) (string, error) {
	parent := CatalogObject{
		Type: "ITEM",
		ID:   "#donations",
		ItemData: &CatalogItemData{
			Name: "Donations",
		},
	}
	result, err := s.squareSvc.BatchUpsertCatalogObjects(ctx, accessToken, random.String(24), []CatalogObject{parent})
	if err != nil {
		return "", err
	}
	for _, mapping := range result.IDMappings {
		if mapping.ClientObjectID == "#donations" {
			return mapping.ObjectID, nil
		}
	}
	if len(result.Objects) > 0 {
		return result.Objects[0].ID, nil
	}
	return "", errors.New("parent item creation returned no id")
}

func buildVariations(parentID string, settings *models.KioskSettings) []CatalogObject {
	objects := make([]CatalogObject, 0, len(settings.PresetAmounts))
	for i, amount := range settings.PresetAmounts {
		variation := CatalogObject{
			Type: "ITEM_VARIATION",
			ID:   fmt.Sprintf("#preset-%d", i),
			VariationData: &CatalogItemVarData{
				ItemID:      parentID,
				Name:        fmt.Sprintf("$%.2f", float64(amount)/100.0),
				PricingType: "FIXED_PRICING",
				PriceMoney: &Money{
					Amount:   listedPriceCents(amount, settings),
					Currency: "USD",
				},
			},
		}
		if settings.ProcessingFeeEnabled {
			variation.VariationData.CustomAttributeValues = map[string]string{
				originalAmountAttr: strconv.FormatInt(amount, 10),
			}
		}
		objects = append(objects, variation)
	}
	return objects
}

// matchPresets maps each upserted variation back to the donation amount
// it was built from: via preserved metadata when fees inflate prices,
// by exact price otherwise.
func matchPresets(organizationID, parentID string, settings *models.KioskSettings, objects []CatalogObject) ([]*models.PresetDonation, error) {
	order := make(map[int64]int, len(settings.PresetAmounts))
	for i, amount := range settings.PresetAmounts {
		order[amount] = i
	}

	presets := make([]*models.PresetDonation, 0, len(objects))
	for _, obj := range objects {
		if obj.Type != "ITEM_VARIATION" || obj.VariationData == nil {
			continue
		}
		var amount int64
		if settings.ProcessingFeeEnabled {
			raw, ok := obj.VariationData.CustomAttributeValues[originalAmountAttr]
			if !ok {
				return nil, fmt.Errorf("variation %s missing original amount metadata", obj.ID)
			}
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("variation %s has bad original amount %q", obj.ID, raw)
			}
			amount = parsed
		} else {
			if obj.VariationData.PriceMoney == nil {
				return nil, fmt.Errorf("variation %s has no price", obj.ID)
			}
			amount = obj.VariationData.PriceMoney.Amount
		}

		displayOrder, ok := order[amount]
		if !ok {
			return nil, fmt.Errorf("variation amount %d does not match any preset", amount)
		}
		itemID := obj.VariationData.ItemID
		if itemID == "" {
			itemID = parentID
		}
		presets = append(presets, &models.PresetDonation{
			ID:                 uuid.New(),
			OrganizationID:     organizationID,
			AmountCents:        amount,
			CatalogItemID:      itemID,
			CatalogVariationID: obj.ID,
			DisplayOrder:       displayOrder,
		})
	}
	if len(presets) != len(settings.PresetAmounts) {
		return nil, fmt.Errorf("expected %d variations, matched %d", len(settings.PresetAmounts), len(presets))
	}
	return presets, nil
}

func (s *catalogService) SyncAll(ctx context.Context, force bool) ([]*SyncResult, error) {
	pending, err := s.settingsRepo.ListPendingSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending organizations: %w", err)
	}

	results := make([]*SyncResult, 0, len(pending))
	for _, settings := range pending {
		result, err := s.SyncOrganization(ctx, settings.OrganizationID, force)
		if err != nil {
			// Unexpected local failure: isolate and continue.
			result = s.failure(settings.OrganizationID, err.Error())
		}
		results = append(results, result)
	}
	return results, nil
}
