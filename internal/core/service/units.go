package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

// ToBase resolves a quantity expressed in an arbitrary unit to the item's
// base-unit quantity. The unit must be the item's base unit (identity) or one
// with a known per-item conversion factor.
func ToBase(item *domain.Item, qty decimal.Decimal, unit string) (decimal.Decimal, error) {
	if unit == "" || unit == item.BaseUnit {
		return qty, nil
	}
	factor, ok := item.Conversions[unit]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no factor for unit %q on item %s", domain.ErrUnknownUnit, unit, item.ID)
	}
	return qty.Mul(factor), nil
}

// CheckQuantity enforces the sign constraint for a submitted quantity:
// strictly positive for every event type except COUNT_ADJUST, which may be
// negative to represent a downward correction. Zero is never meaningful.
func CheckQuantity(eventType domain.EventType, qty decimal.Decimal) error {
	if qty.IsZero() {
		return fmt.Errorf("%w: quantity must be non-zero", domain.ErrInvalidQuantity)
	}
	if qty.IsNegative() && eventType != domain.EventCountAdjust {
		return fmt.Errorf("%w: negative quantity only allowed for COUNT_ADJUST", domain.ErrInvalidQuantity)
	}
	return nil
}
