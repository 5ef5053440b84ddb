package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/port"
)

const idempotencyKeyPrefix = "txn:"

// TransactionInput is one logical transaction. Quantity is submitted either
// directly in base units (QtyBase) or as Qty+Unit for conversion. A transfer
// sets TransferTo and expands into two ledger entries.
type TransactionInput struct {
	RequestID   string
	ItemID      string
	LocationID  string
	EventType   domain.EventType
	QtyBase     *decimal.Decimal
	Qty         *decimal.Decimal
	Unit        string
	LotID       string
	SerialNo    string
	CostPerBase *decimal.Decimal
	SourceDoc   string
	PostedBy    string
	TransferTo  string
}

// PosterConfig carries posting policy knobs.
type PosterConfig struct {
	// GateOnAvailability makes outbound postings check available (on-hand
	// minus current holds) instead of raw on-hand. Default off: reservations
	// gate only other reservations.
	GateOnAvailability bool

	// AppendRetries bounds retries of a failed durable append. A failed
	// append leaves zero entries visible, so retrying is safe.
	AppendRetries int

	RetryBackoff time.Duration
}

// Poster validates and appends one logical transaction atomically. All
// invariant checks for the touched (item, location) keys run while holding
// the gate for those keys.
type Poster struct {
	catalog port.CatalogRepository
	ledger  port.LedgerRepository
	cache   port.CacheRepository
	agg     *Aggregator
	gate    *Gate
	cfg     PosterConfig
	logger  *zap.Logger
}

func NewPoster(catalog port.CatalogRepository, ledger port.LedgerRepository, cache port.CacheRepository, agg *Aggregator, gate *Gate, cfg PosterConfig, logger *zap.Logger) *Poster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	return &Poster{
		catalog: catalog,
		ledger:  ledger,
		cache:   cache,
		agg:     agg,
		gate:    gate,
		cfg:     cfg,
		logger:  logger,
	}
}

// Post validates the transaction, assigns signs and timestamps under the
// gate, and appends one or two entries as a single batch. The batch append is
// the atomicity boundary: a transfer is never half-visible.
//
// The idempotency key is claimed up front so concurrent duplicates race on
// SetNX, but it only survives a successful posting: a failed request leaves
// zero entries visible, so its key is released and the same requestId may be
// resubmitted.
func (p *Poster) Post(ctx context.Context, in TransactionInput) ([]domain.LedgerEntry, error) {
	claimed := false
	if in.RequestID != "" && p.cache != nil {
		ok, err := p.cache.SetIdempotency(ctx, idempotencyKeyPrefix+in.RequestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		claimed = true
	}

	entries, err := p.post(ctx, in)
	if err != nil {
		if claimed {
			if relErr := p.cache.ReleaseIdempotency(ctx, idempotencyKeyPrefix+in.RequestID); relErr != nil {
				p.logger.Warn("idempotency release failed",
					zap.String("request_id", in.RequestID), zap.Error(relErr))
			}
		}
		return nil, err
	}
	return entries, nil
}

func (p *Poster) post(ctx context.Context, in TransactionInput) ([]domain.LedgerEntry, error) {
	if !in.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidQuantity, in.EventType)
	}
	if in.EventType == domain.EventReservationHold || in.EventType == domain.EventReservationRelease {
		return nil, fmt.Errorf("%w: reservation events are posted by the reservation manager", domain.ErrInvalidQuantity)
	}

	item, origin, dest, err := p.resolveRefs(ctx, in)
	if err != nil {
		return nil, err
	}

	qtyBase, err := p.resolveQuantity(item, in)
	if err != nil {
		return nil, err
	}

	if err := p.checkTracking(item, in, qtyBase); err != nil {
		return nil, err
	}

	if err := checkTransferShape(in); err != nil {
		return nil, err
	}

	keys := []string{domain.LedgerKey(item.ID, origin.ID)}
	if dest != nil {
		keys = append(keys, domain.LedgerKey(item.ID, dest.ID))
	}

	var entries []domain.LedgerEntry
	err = p.gate.WithLock(keys, func() error {
		var lockErr error
		entries, lockErr = p.postLocked(ctx, item, origin, dest, in, qtyBase)
		return lockErr
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// resolveRefs checks that the referenced item and locations exist. Transfer
// shape (event type, destination != origin) is validated later so quantity
// errors surface first.
func (p *Poster) resolveRefs(ctx context.Context, in TransactionInput) (*domain.Item, *domain.Location, *domain.Location, error) {
	item, err := p.catalog.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil || !item.Active {
		return nil, nil, nil, fmt.Errorf("%w: item %s", domain.ErrNotFound, in.ItemID)
	}

	origin, err := p.catalog.GetLocation(ctx, in.LocationID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get location: %w", err)
	}
	if origin == nil {
		return nil, nil, nil, fmt.Errorf("%w: location %s", domain.ErrNotFound, in.LocationID)
	}

	var dest *domain.Location
	if in.TransferTo != "" {
		dest, err = p.catalog.GetLocation(ctx, in.TransferTo)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("get destination: %w", err)
		}
		if dest == nil {
			return nil, nil, nil, fmt.Errorf("%w: location %s", domain.ErrNotFound, in.TransferTo)
		}
	}

	return item, origin, dest, nil
}

func checkTransferShape(in TransactionInput) error {
	if in.TransferTo != "" {
		if in.EventType != domain.EventTransferOut {
			return fmt.Errorf("%w: transfer requires TRANSFER_OUT, got %s", domain.ErrInvalidTransfer, in.EventType)
		}
		if in.TransferTo == in.LocationID {
			return fmt.Errorf("%w: destination equals origin", domain.ErrInvalidTransfer)
		}
	} else if in.EventType == domain.EventTransferOut || in.EventType == domain.EventTransferIn {
		// Transfer legs are only ever synthesized in pairs.
		return fmt.Errorf("%w: missing destination", domain.ErrInvalidTransfer)
	}
	return nil
}

func (p *Poster) resolveQuantity(item *domain.Item, in TransactionInput) (decimal.Decimal, error) {
	var qtyBase decimal.Decimal
	switch {
	case in.QtyBase != nil && in.Qty == nil:
		qtyBase = *in.QtyBase
	case in.Qty != nil && in.QtyBase == nil:
		converted, err := ToBase(item, *in.Qty, in.Unit)
		if err != nil {
			return decimal.Zero, err
		}
		qtyBase = converted
	default:
		return decimal.Zero, fmt.Errorf("%w: exactly one of qtyBase or qty+unit required", domain.ErrInvalidQuantity)
	}

	if err := CheckQuantity(in.EventType, qtyBase); err != nil {
		return decimal.Zero, err
	}
	return qtyBase, nil
}

func (p *Poster) checkTracking(item *domain.Item, in TransactionInput, qtyBase decimal.Decimal) error {
	one := decimal.NewFromInt(1)

	switch item.Type.Tracking() {
	case domain.TrackingSerial:
		if in.SerialNo == "" {
			return fmt.Errorf("%w: serial required for %s items", domain.ErrInvalidQuantity, item.Type)
		}
	case domain.TrackingLot:
		if in.LotID == "" {
			return fmt.Errorf("%w: lot required for %s items", domain.ErrInvalidQuantity, item.Type)
		}
	}

	if in.SerialNo != "" && !qtyBase.Abs().Equal(one) {
		return fmt.Errorf("%w: serialized quantity must be exactly 1", domain.ErrInvalidQuantity)
	}
	return nil
}

func (p *Poster) postLocked(ctx context.Context, item *domain.Item, origin, dest *domain.Location, in TransactionInput, qtyBase decimal.Decimal) ([]domain.LedgerEntry, error) {
	// Duplicate-serial receipts are rejected across all locations.
	if in.SerialNo != "" && item.Type.Tracking() == domain.TrackingSerial && in.EventType == domain.EventReceipt {
		held, err := p.agg.OnHand(ctx, OnHandQuery{ItemID: item.ID, SerialNo: in.SerialNo})
		if err != nil {
			return nil, err
		}
		if held.IsPositive() {
			return nil, fmt.Errorf("%w: serial %s", domain.ErrSerialConflict, in.SerialNo)
		}
	}

	signed := qtyBase
	if in.EventType.Sign() < 0 {
		signed = qtyBase.Neg()
	}

	if in.EventType.Outbound() || (in.EventType == domain.EventCountAdjust && signed.IsNegative()) {
		current, err := p.agg.OnHand(ctx, OnHandQuery{
			ItemID:     item.ID,
			LocationID: origin.ID,
			LotID:      in.LotID,
			SerialNo:   in.SerialNo,
		})
		if err != nil {
			return nil, err
		}
		if current.Add(signed).IsNegative() {
			return nil, fmt.Errorf("%w: on-hand %s, requested %s", domain.ErrInsufficientStock, current, signed.Abs())
		}

		if p.cfg.GateOnAvailability && in.EventType.Outbound() {
			// Holds carry no lot or serial, so availability compares
			// location-wide figures on both sides.
			locOnHand := current
			if in.LotID != "" || in.SerialNo != "" {
				locOnHand, err = p.agg.OnHand(ctx, OnHandQuery{ItemID: item.ID, LocationID: origin.ID})
				if err != nil {
					return nil, err
				}
			}
			now := time.Now().UTC()
			reserved, err := p.agg.Reserved(ctx, item.ID, origin.ID, now, now.Add(time.Nanosecond))
			if err != nil {
				return nil, err
			}
			if locOnHand.Sub(reserved).Add(signed).IsNegative() {
				return nil, fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientStock, locOnHand.Sub(reserved), signed.Abs())
			}
		}
	}

	locationIDs := []string{origin.ID}
	if dest != nil {
		locationIDs = append(locationIDs, dest.ID)
	}
	postedAt, err := nextPostedAt(ctx, p.ledger, item.ID, locationIDs...)
	if err != nil {
		return nil, err
	}

	sourceDoc := in.SourceDoc
	if dest != nil && sourceDoc == "" {
		sourceDoc = "xfer-" + uuid.New().String()
	}

	entries := []domain.LedgerEntry{{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		LocationID:  origin.ID,
		EventType:   in.EventType,
		QtyBase:     signed,
		LotID:       in.LotID,
		SerialNo:    in.SerialNo,
		CostPerBase: in.CostPerBase,
		SourceDoc:   sourceDoc,
		PostedBy:    in.PostedBy,
		PostedAt:    postedAt,
	}}

	if dest != nil {
		entries = append(entries, domain.LedgerEntry{
			ID:          uuid.New().String(),
			ItemID:      item.ID,
			LocationID:  dest.ID,
			EventType:   domain.EventTransferIn,
			QtyBase:     signed.Neg(),
			LotID:       in.LotID,
			SerialNo:    in.SerialNo,
			CostPerBase: in.CostPerBase,
			SourceDoc:   sourceDoc,
			PostedBy:    in.PostedBy,
			PostedAt:    postedAt,
		})
	}

	if err := p.appendWithRetry(ctx, entries); err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.InvalidateSummary(ctx, item.ID); err != nil {
			p.logger.Warn("summary invalidation failed", zap.String("item_id", item.ID), zap.Error(err))
		}
	}

	p.logger.Info("transaction posted",
		zap.String("item_id", item.ID),
		zap.String("location_id", origin.ID),
		zap.String("event_type", string(in.EventType)),
		zap.String("qty_base", signed.String()),
		zap.Int("entries", len(entries)))

	return entries, nil
}

// nextPostedAt assigns a server timestamp that is monotonically non-decreasing
// per (item, location), clamped against the newest entry under each touched
// key. Every append — postings and reservation audit entries alike — must use
// it, and the caller must hold the gate for the keys.
func nextPostedAt(ctx context.Context, ledger port.LedgerRepository, itemID string, locationIDs ...string) (time.Time, error) {
	postedAt := time.Now().UTC()

	for _, locID := range locationIDs {
		last, err := ledger.ReadEntries(ctx, port.EntryFilter{
			ItemID:     itemID,
			LocationID: locID,
			Limit:      1,
			Descending: true,
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("read last entry: %w", err)
		}
		if len(last) > 0 && last[0].PostedAt.After(postedAt) {
			postedAt = last[0].PostedAt
		}
	}
	return postedAt, nil
}

func (p *Poster) appendWithRetry(ctx context.Context, entries []domain.LedgerEntry) error {
	var err error
	for attempt := 0; attempt < p.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryBackoff << (attempt - 1)):
			}
		}
		if err = p.ledger.AppendBatch(ctx, entries); err == nil {
			return nil
		}
		p.logger.Warn("append failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
