package domain

import "github.com/shopspring/decimal"

// BalanceBucket is one (location, lot) slice of an item's on-hand quantity.
type BalanceBucket struct {
	LocationID string          `json:"locationId"`
	LotID      string          `json:"lotId,omitempty"`
	OnHand     decimal.Decimal `json:"onHand"`
}

// OnHandSummary is derived, never stored: on-hand grouped by (location, lot)
// plus aggregate totals where available = onHand - reserved.
type OnHandSummary struct {
	ItemID    string          `json:"itemId"`
	Buckets   []BalanceBucket `json:"buckets"`
	OnHand    decimal.Decimal `json:"onHand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
}
