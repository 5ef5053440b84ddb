package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemType string

const (
	ItemTypeConsumable      ItemType = "CONSUMABLE"
	ItemTypeReturnableAsset ItemType = "RETURNABLE_ASSET"
	ItemTypeFixedAsset      ItemType = "FIXED_ASSET"
	ItemTypePerishable      ItemType = "PERISHABLE"
	ItemTypeRental          ItemType = "RENTAL"
	ItemTypeKit             ItemType = "KIT"
)

// TrackingMode is derived from the item type at validation time; it decides
// whether postings must carry a serial number or a lot id.
type TrackingMode int

const (
	TrackingNone TrackingMode = iota
	TrackingLot
	TrackingSerial
)

func (t ItemType) Tracking() TrackingMode {
	switch t {
	case ItemTypeReturnableAsset, ItemTypeFixedAsset, ItemTypeRental:
		return TrackingSerial
	case ItemTypePerishable:
		return TrackingLot
	default:
		return TrackingNone
	}
}

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeConsumable, ItemTypeReturnableAsset, ItemTypeFixedAsset,
		ItemTypePerishable, ItemTypeRental, ItemTypeKit:
		return true
	}
	return false
}

// Item is catalog metadata. The ledger only reads BaseUnit, Type and Active;
// everything else is carried for the catalog API.
type Item struct {
	ID         string         `json:"itemId"`
	SKU        string         `json:"sku"`
	Name       string         `json:"name"`
	Type       ItemType       `json:"itemType"`
	BaseUnit   string         `json:"baseUnit"`
	SchemaID   string         `json:"schemaId,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Active     bool           `json:"active"`
	// Conversions maps a unit name to the factor that converts one of that
	// unit into base units. BaseUnit itself is implicitly factor 1.
	Conversions map[string]decimal.Decimal `json:"conversions,omitempty"`
	CreatedAt   time.Time                  `json:"createdAt"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
}

type Location struct {
	ID           string `json:"locationId"`
	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
}
