package port

import (
	"context"
	"time"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

// EntryFilter narrows a ledger read. Zero-valued fields are ignored.
type EntryFilter struct {
	ItemID     string
	LocationID string
	LotID      string
	SerialNo   string
	EventType  domain.EventType
	From       time.Time
	To         time.Time
	// AsOf bounds the cut time for point-in-time balance reconstruction.
	AsOf       time.Time
	Limit      int
	Descending bool
}

type LedgerRepository interface {
	// AppendBatch persists all entries as one durable batch. Partial
	// application must never be observable: all entries share transactional
	// visibility. This is the only write operation on the ledger.
	AppendBatch(ctx context.Context, entries []domain.LedgerEntry) error

	// ReadEntries returns matching entries ordered by posted_at. It never
	// mutates and is safe under arbitrary concurrent appends.
	ReadEntries(ctx context.Context, f EntryFilter) ([]domain.LedgerEntry, error)

	// ActiveItemIDs returns the ids of items with at least one entry posted
	// at or after since. Used to pick cache-warm candidates.
	ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error)
}
