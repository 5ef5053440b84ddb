package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/port"
)

// OnHandQuery scopes a balance fold. Empty string fields are unfiltered; a
// zero AsOf means "now".
type OnHandQuery struct {
	ItemID     string
	LocationID string
	LotID      string
	SerialNo   string
	AsOf       time.Time
}

// Aggregator derives balances by folding the immutable ledger. It is a pure
// function of stored state: repeated calls against an unchanged ledger return
// identical results. There is no mutable running total anywhere.
type Aggregator struct {
	ledger       port.LedgerRepository
	reservations port.ReservationRepository
	cache        port.CacheRepository
	cacheTTL     time.Duration
	logger       *zap.Logger
}

func NewAggregator(ledger port.LedgerRepository, reservations port.ReservationRepository, cache port.CacheRepository, cacheTTL time.Duration, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		ledger:       ledger,
		reservations: reservations,
		cache:        cache,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// OnHand folds matching entries' signed quantities up to AsOf. It always
// reads the authoritative ledger; invariant decisions must never see a cache.
func (a *Aggregator) OnHand(ctx context.Context, q OnHandQuery) (decimal.Decimal, error) {
	entries, err := a.ledger.ReadEntries(ctx, port.EntryFilter{
		ItemID:     q.ItemID,
		LocationID: q.LocationID,
		LotID:      q.LotID,
		SerialNo:   q.SerialNo,
		AsOf:       q.AsOf,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("read entries: %w", err)
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.QtyBase)
	}
	return total, nil
}

// Reserved sums the quantities of HELD reservations whose window intersects
// [from, to). An empty locationID spans all locations.
func (a *Aggregator) Reserved(ctx context.Context, itemID, locationID string, from, to time.Time) (decimal.Decimal, error) {
	held, err := a.reservations.OverlappingHeld(ctx, itemID, locationID, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read reservations: %w", err)
	}

	total := decimal.Zero
	for _, r := range held {
		total = total.Add(r.QtyBase)
	}
	return total, nil
}

// Summary groups on-hand by (location, lot) and adds reservation-derived
// reserved/available totals for the requested window. A zero from/to pair
// means the instantaneous now, which is the only shape served from cache.
func (a *Aggregator) Summary(ctx context.Context, itemID string, from, to time.Time) (*domain.OnHandSummary, error) {
	instant := from.IsZero() && to.IsZero()
	if instant {
		now := time.Now().UTC()
		from, to = now, now.Add(time.Nanosecond)

		if a.cache != nil {
			if cached, ok, err := a.cache.GetSummary(ctx, itemID); err != nil {
				a.logger.Warn("summary cache read failed", zap.String("item_id", itemID), zap.Error(err))
			} else if ok {
				return cached, nil
			}
		}
	} else if to.IsZero() {
		to = time.Now().UTC()
	}

	s, err := a.computeSummary(ctx, itemID, from, to)
	if err != nil {
		return nil, err
	}

	if instant && a.cache != nil {
		if err := a.cache.SetSummary(ctx, itemID, *s, a.cacheTTL); err != nil {
			a.logger.Warn("summary cache write failed", zap.String("item_id", itemID), zap.Error(err))
		}
	}
	return s, nil
}

// RefreshSummary recomputes the current-instant summary and overwrites the
// cached copy. Used by the cache warmer.
func (a *Aggregator) RefreshSummary(ctx context.Context, itemID string) error {
	now := time.Now().UTC()
	s, err := a.computeSummary(ctx, itemID, now, now.Add(time.Nanosecond))
	if err != nil {
		return err
	}
	if a.cache == nil {
		return nil
	}
	return a.cache.SetSummary(ctx, itemID, *s, a.cacheTTL)
}

func (a *Aggregator) computeSummary(ctx context.Context, itemID string, from, to time.Time) (*domain.OnHandSummary, error) {
	entries, err := a.ledger.ReadEntries(ctx, port.EntryFilter{ItemID: itemID, AsOf: to})
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}

	type bucketKey struct{ location, lot string }
	buckets := make(map[bucketKey]decimal.Decimal)
	onHand := decimal.Zero
	for _, e := range entries {
		k := bucketKey{e.LocationID, e.LotID}
		buckets[k] = buckets[k].Add(e.QtyBase)
		onHand = onHand.Add(e.QtyBase)
	}

	reserved, err := a.Reserved(ctx, itemID, "", from, to)
	if err != nil {
		return nil, err
	}

	s := &domain.OnHandSummary{
		ItemID:    itemID,
		Buckets:   make([]domain.BalanceBucket, 0, len(buckets)),
		OnHand:    onHand,
		Reserved:  reserved,
		Available: onHand.Sub(reserved),
	}
	for k, qty := range buckets {
		if qty.IsZero() {
			continue
		}
		s.Buckets = append(s.Buckets, domain.BalanceBucket{LocationID: k.location, LotID: k.lot, OnHand: qty})
	}
	sort.Slice(s.Buckets, func(i, j int) bool {
		if s.Buckets[i].LocationID != s.Buckets[j].LocationID {
			return s.Buckets[i].LocationID < s.Buckets[j].LocationID
		}
		return s.Buckets[i].LotID < s.Buckets[j].LotID
	})
	return s, nil
}
