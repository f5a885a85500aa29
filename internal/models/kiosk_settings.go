package models

import (
	"time"

	"github.com/google/uuid"
)

// KioskSettings is the per-organization kiosk configuration. The
// preset_amounts column is a mailbox: the kiosk app writes amounts it
// wants mirrored into Square's catalog, and a successful sync drains it
// back to null.
type KioskSettings struct {
	ID                      uuid.UUID  `json:"id" db:"id"`
	OrganizationID          string     `json:"organization_id" db:"organization_id"`
	PresetAmounts           []int64    `json:"preset_amounts" db:"preset_amounts"`
	ProcessingFeeEnabled    bool       `json:"processing_fee_enabled" db:"processing_fee_enabled"`
	ProcessingFeePercentage float64    `json:"processing_fee_percentage" db:"processing_fee_percentage"`
	ProcessingFeeFixedCents int64      `json:"processing_fee_fixed_cents" db:"processing_fee_fixed_cents"`
	CatalogParentID         *string    `json:"catalog_parent_id" db:"catalog_parent_id"`
	LastCatalogSync         *time.Time `json:"last_catalog_sync" db:"last_catalog_sync"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// PresetDonation is one synced preset amount with its Square catalog
// identifiers. Rows are fully replaced on every sync.
type PresetDonation struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	OrganizationID     string    `json:"organization_id" db:"organization_id"`
	AmountCents        int64     `json:"amount_cents" db:"amount_cents"`
	CatalogItemID      string    `json:"catalog_item_id" db:"catalog_item_id"`
	CatalogVariationID string    `json:"catalog_variation_id" db:"catalog_variation_id"`
	DisplayOrder       int       `json:"display_order" db:"display_order"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}
