package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

func seedEntries(ledger *mockLedgerRepo, base time.Time) {
	ledger.entries = []domain.LedgerEntry{
		{ID: "e1", ItemID: "item-1", LocationID: "loc-a", EventType: domain.EventReceipt, QtyBase: decimal.NewFromInt(10), PostedAt: base},
		{ID: "e2", ItemID: "item-1", LocationID: "loc-a", LotID: "lot-1", EventType: domain.EventReceipt, QtyBase: decimal.NewFromInt(5), PostedAt: base.Add(time.Minute)},
		{ID: "e3", ItemID: "item-1", LocationID: "loc-a", EventType: domain.EventConsumption, QtyBase: decimal.NewFromInt(-3), PostedAt: base.Add(2 * time.Minute)},
		{ID: "e4", ItemID: "item-1", LocationID: "loc-b", EventType: domain.EventReceipt, QtyBase: decimal.NewFromInt(7), PostedAt: base.Add(3 * time.Minute)},
		{ID: "e5", ItemID: "item-2", LocationID: "loc-a", EventType: domain.EventReceipt, QtyBase: decimal.NewFromInt(99), PostedAt: base.Add(4 * time.Minute)},
	}
}

func TestOnHand_FoldsSignedQuantities(t *testing.T) {
	ledger := newMockLedgerRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)
	agg := NewAggregator(ledger, newMockReservationRepo(), nil, 0, nil)

	got, err := agg.OnHand(context.Background(), OnHandQuery{ItemID: "item-1", LocationID: "loc-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected on-hand 12, got %s", got)
	}
}

func TestOnHand_AsOfCut(t *testing.T) {
	ledger := newMockLedgerRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)
	agg := NewAggregator(ledger, newMockReservationRepo(), nil, 0, nil)

	got, err := agg.OnHand(context.Background(), OnHandQuery{
		ItemID:     "item-1",
		LocationID: "loc-a",
		AsOf:       base.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// e3 posted after the cut is excluded.
	if !got.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected on-hand 15 at cut, got %s", got)
	}
}

func TestOnHand_LotScoped(t *testing.T) {
	ledger := newMockLedgerRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)
	agg := NewAggregator(ledger, newMockReservationRepo(), nil, 0, nil)

	got, err := agg.OnHand(context.Background(), OnHandQuery{ItemID: "item-1", LocationID: "loc-a", LotID: "lot-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected lot on-hand 5, got %s", got)
	}
}

func TestOnHand_Idempotent(t *testing.T) {
	ledger := newMockLedgerRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)
	agg := NewAggregator(ledger, newMockReservationRepo(), nil, 0, nil)

	q := OnHandQuery{ItemID: "item-1"}
	first, err := agg.OnHand(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := agg.OnHand(context.Background(), q)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !again.Equal(first) {
			t.Fatalf("fold not idempotent: %s then %s", first, again)
		}
	}
}

func TestSummary_GroupsByLocationAndLot(t *testing.T) {
	ledger := newMockLedgerRepo()
	reservations := newMockReservationRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)

	now := time.Now().UTC()
	reservations.reservations["r1"] = domain.Reservation{
		ID: "r1", ItemID: "item-1", LocationID: "loc-a",
		QtyBase: decimal.NewFromInt(4),
		StartTs: now.Add(-time.Minute), EndTs: now.Add(time.Hour),
		Status: domain.ReservationHeld,
	}
	// Released holds never count.
	reservations.reservations["r2"] = domain.Reservation{
		ID: "r2", ItemID: "item-1", LocationID: "loc-a",
		QtyBase: decimal.NewFromInt(2),
		StartTs: now.Add(-time.Minute), EndTs: now.Add(time.Hour),
		Status: domain.ReservationReleased,
	}

	agg := NewAggregator(ledger, reservations, nil, 0, nil)
	s, err := agg.Summary(context.Background(), "item-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.OnHand.Equal(decimal.NewFromInt(19)) {
		t.Errorf("expected on-hand 19, got %s", s.OnHand)
	}
	if !s.Reserved.Equal(decimal.NewFromInt(4)) {
		t.Errorf("expected reserved 4, got %s", s.Reserved)
	}
	if !s.Available.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected available 15, got %s", s.Available)
	}

	if len(s.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(s.Buckets))
	}
	// Buckets are sorted by (location, lot).
	b := s.Buckets
	if b[0].LocationID != "loc-a" || b[0].LotID != "" || !b[0].OnHand.Equal(decimal.NewFromInt(7)) {
		t.Errorf("unexpected bucket 0: %+v", b[0])
	}
	if b[1].LocationID != "loc-a" || b[1].LotID != "lot-1" || !b[1].OnHand.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected bucket 1: %+v", b[1])
	}
	if b[2].LocationID != "loc-b" || !b[2].OnHand.Equal(decimal.NewFromInt(7)) {
		t.Errorf("unexpected bucket 2: %+v", b[2])
	}
}

func TestSummary_WindowedReservations(t *testing.T) {
	ledger := newMockLedgerRepo()
	reservations := newMockReservationRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)

	now := time.Now().UTC()
	// Overlaps the queried window.
	reservations.reservations["r1"] = domain.Reservation{
		ID: "r1", ItemID: "item-1", LocationID: "loc-a",
		QtyBase: decimal.NewFromInt(3),
		StartTs: now.Add(time.Hour), EndTs: now.Add(3 * time.Hour),
		Status: domain.ReservationHeld,
	}
	// Entirely outside the queried window.
	reservations.reservations["r2"] = domain.Reservation{
		ID: "r2", ItemID: "item-1", LocationID: "loc-a",
		QtyBase: decimal.NewFromInt(5),
		StartTs: now.Add(10 * time.Hour), EndTs: now.Add(11 * time.Hour),
		Status: domain.ReservationHeld,
	}

	agg := NewAggregator(ledger, reservations, nil, 0, nil)
	s, err := agg.Summary(context.Background(), "item-1", now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Reserved.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected reserved 3 in window, got %s", s.Reserved)
	}
}

func TestSummary_InstantServedFromCache(t *testing.T) {
	ledger := newMockLedgerRepo()
	base := time.Now().UTC().Add(-time.Hour)
	seedEntries(ledger, base)
	cache := newMockCacheRepo()

	agg := NewAggregator(ledger, newMockReservationRepo(), cache, time.Minute, nil)

	first, err := agg.Summary(context.Background(), "item-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the ledger behind the cache's back; the cached copy must win
	// until invalidated.
	ledger.entries = append(ledger.entries, domain.LedgerEntry{
		ID: "e6", ItemID: "item-1", LocationID: "loc-a",
		EventType: domain.EventReceipt, QtyBase: decimal.NewFromInt(100),
		PostedAt: time.Now().UTC(),
	})

	cached, err := agg.Summary(context.Background(), "item-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cached.OnHand.Equal(first.OnHand) {
		t.Errorf("expected cached on-hand %s, got %s", first.OnHand, cached.OnHand)
	}

	if err := cache.InvalidateSummary(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fresh, err := agg.Summary(context.Background(), "item-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fresh.OnHand.Equal(first.OnHand.Add(decimal.NewFromInt(100))) {
		t.Errorf("expected fresh on-hand after invalidation, got %s", fresh.OnHand)
	}
}
