package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

// ItemPatch carries the mutable item fields; nil pointers are left untouched.
type ItemPatch struct {
	Name        *string
	Active      *bool
	SchemaID    *string
	Attributes  map[string]any
	Conversions map[string]decimal.Decimal
}

// CatalogRepository is the item/location catalog. The ledger only reads from
// it (baseUnit, itemType, active); the create/update operations back the
// catalog endpoints, which are external to the ledger proper.
type CatalogRepository interface {
	// GetItem returns the item with its unit conversions, or nil when unknown.
	GetItem(ctx context.Context, id string) (*domain.Item, error)

	CreateItem(ctx context.Context, item domain.Item) error

	UpdateItem(ctx context.Context, id string, patch ItemPatch) (*domain.Item, error)

	// GetLocation returns the location or nil when unknown.
	GetLocation(ctx context.Context, id string) (*domain.Location, error)

	CreateLocation(ctx context.Context, loc domain.Location) error
}
