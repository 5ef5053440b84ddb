package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/port"
)

// In-memory repositories mirroring the MySQL adapter's filter semantics.

type mockLedgerRepo struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
	// failAppends makes the next N appends fail, to exercise retry.
	failAppends int
	appendCalls int
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{}
}

func (m *mockLedgerRepo) AppendBatch(ctx context.Context, entries []domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	if m.failAppends > 0 {
		m.failAppends--
		return errors.New("storage down")
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockLedgerRepo) ReadEntries(ctx context.Context, f port.EntryFilter) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if f.ItemID != "" && e.ItemID != f.ItemID {
			continue
		}
		if f.LocationID != "" && e.LocationID != f.LocationID {
			continue
		}
		if f.LotID != "" && e.LotID != f.LotID {
			continue
		}
		if f.SerialNo != "" && e.SerialNo != f.SerialNo {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if !f.From.IsZero() && e.PostedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.PostedAt.Before(f.To) {
			continue
		}
		if !f.AsOf.IsZero() && e.PostedAt.After(f.AsOf) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if f.Descending {
			return out[i].PostedAt.After(out[j].PostedAt)
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockLedgerRepo) ActiveItemIDs(ctx context.Context, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, e := range m.entries {
		if e.PostedAt.Before(since) {
			continue
		}
		if _, ok := seen[e.ItemID]; ok {
			continue
		}
		seen[e.ItemID] = struct{}{}
		ids = append(ids, e.ItemID)
	}
	return ids, nil
}

func (m *mockLedgerRepo) all() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

type mockReservationRepo struct {
	mu           sync.Mutex
	reservations map[string]domain.Reservation
}

func newMockReservationRepo() *mockReservationRepo {
	return &mockReservationRepo{reservations: make(map[string]domain.Reservation)}
}

func (m *mockReservationRepo) CreateReservation(ctx context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
	return nil
}

func (m *mockReservationRepo) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockReservationRepo) ListReservations(ctx context.Context, f port.ReservationFilter) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Reservation
	for _, r := range m.reservations {
		if f.ItemID != "" && r.ItemID != f.ItemID {
			continue
		}
		if f.LocationID != "" && r.LocationID != f.LocationID {
			continue
		}
		if f.EventID != "" && r.EventID != f.EventID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockReservationRepo) OverlappingHeld(ctx context.Context, itemID, locationID string, from, to time.Time) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Reservation
	for _, r := range m.reservations {
		if r.ItemID != itemID || r.Status != domain.ReservationHeld {
			continue
		}
		if locationID != "" && r.LocationID != locationID {
			continue
		}
		if !r.Overlaps(from, to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockReservationRepo) UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	m.reservations[id] = r
	return true, nil
}

type mockCatalogRepo struct {
	mu        sync.Mutex
	items     map[string]domain.Item
	locations map[string]domain.Location
}

func newMockCatalogRepo() *mockCatalogRepo {
	return &mockCatalogRepo{
		items:     make(map[string]domain.Item),
		locations: make(map[string]domain.Location),
	}
}

func (m *mockCatalogRepo) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *mockCatalogRepo) CreateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *mockCatalogRepo) UpdateItem(ctx context.Context, id string, patch port.ItemPatch) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Active != nil {
		item.Active = *patch.Active
	}
	if patch.Conversions != nil {
		item.Conversions = patch.Conversions
	}
	m.items[id] = item
	return &item, nil
}

func (m *mockCatalogRepo) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *mockCatalogRepo) CreateLocation(ctx context.Context, loc domain.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	summaries      map[string]domain.OnHandSummary
	invalidations  int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		summaries:      make(map[string]domain.OnHandSummary),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) GetSummary(ctx context.Context, itemID string) (*domain.OnHandSummary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[itemID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *mockCacheRepo) SetSummary(ctx context.Context, itemID string, s domain.OnHandSummary, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[itemID] = s
	return nil
}

func (m *mockCacheRepo) InvalidateSummary(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, itemID)
	m.invalidations++
	return nil
}

// fixture wires a full in-memory service graph.
type fixture struct {
	ledger       *mockLedgerRepo
	reservations *mockReservationRepo
	catalog      *mockCatalogRepo
	cache        *mockCacheRepo
	gate         *Gate
	agg          *Aggregator
	poster       *Poster
	manager      *ReservationManager
}

func newFixture(cfg PosterConfig) *fixture {
	f := &fixture{
		ledger:       newMockLedgerRepo(),
		reservations: newMockReservationRepo(),
		catalog:      newMockCatalogRepo(),
		cache:        newMockCacheRepo(),
		gate:         NewGate(),
	}
	f.agg = NewAggregator(f.ledger, f.reservations, nil, 0, nil)
	f.poster = NewPoster(f.catalog, f.ledger, f.cache, f.agg, f.gate, cfg, nil)
	f.manager = NewReservationManager(f.catalog, f.ledger, f.reservations, f.cache, f.agg, f.gate, nil)
	return f
}

func (f *fixture) addItem(id string, itemType domain.ItemType, baseUnit string, conversions map[string]decimal.Decimal) {
	now := time.Now().UTC()
	f.catalog.items[id] = domain.Item{
		ID:          id,
		SKU:         "SKU-" + id,
		Name:        id,
		Type:        itemType,
		BaseUnit:    baseUnit,
		Active:      true,
		Conversions: conversions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (f *fixture) addLocation(id string) {
	f.catalog.locations[id] = domain.Location{ID: id, DepartmentID: "dept-1", Name: id}
}

func qty(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
