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

// ReservationInput creates a time-bounded hold against future availability.
type ReservationInput struct {
	ItemID     string
	LocationID string
	EventID    string
	QtyBase    decimal.Decimal
	StartTs    time.Time
	EndTs      time.Time
	PostedBy   string
}

// ReservationManager creates, releases, and fulfills holds. Creation and the
// availability check it depends on run under the same gate key as postings
// for the (item, location), so a hold and a consuming transaction cannot both
// believe there is enough stock.
type ReservationManager struct {
	catalog      port.CatalogRepository
	ledger       port.LedgerRepository
	reservations port.ReservationRepository
	cache        port.CacheRepository
	agg          *Aggregator
	gate         *Gate
	logger       *zap.Logger
}

func NewReservationManager(catalog port.CatalogRepository, ledger port.LedgerRepository, reservations port.ReservationRepository, cache port.CacheRepository, agg *Aggregator, gate *Gate, logger *zap.Logger) *ReservationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationManager{
		catalog:      catalog,
		ledger:       ledger,
		reservations: reservations,
		cache:        cache,
		agg:          agg,
		gate:         gate,
		logger:       logger,
	}
}

// Create validates the window and quantity, checks availability under the
// gate, and inserts the hold in HELD status. Failing validation leaves state
// unchanged.
func (m *ReservationManager) Create(ctx context.Context, in ReservationInput) (*domain.Reservation, error) {
	if !in.QtyBase.IsPositive() {
		return nil, fmt.Errorf("%w: reservation quantity must be positive", domain.ErrInvalidQuantity)
	}
	if !in.StartTs.Before(in.EndTs) {
		return nil, fmt.Errorf("%w: startTs must precede endTs", domain.ErrInvalidQuantity)
	}

	item, err := m.catalog.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil || !item.Active {
		return nil, fmt.Errorf("%w: item %s", domain.ErrNotFound, in.ItemID)
	}
	loc, err := m.catalog.GetLocation(ctx, in.LocationID)
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: location %s", domain.ErrNotFound, in.LocationID)
	}

	var res *domain.Reservation
	err = m.gate.WithLock([]string{domain.LedgerKey(in.ItemID, in.LocationID)}, func() error {
		onHand, err := m.agg.OnHand(ctx, OnHandQuery{ItemID: in.ItemID, LocationID: in.LocationID})
		if err != nil {
			return err
		}
		reserved, err := m.agg.Reserved(ctx, in.ItemID, in.LocationID, in.StartTs, in.EndTs)
		if err != nil {
			return err
		}

		available := onHand.Sub(reserved)
		if in.QtyBase.GreaterThan(available) {
			return fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientAvailability, available, in.QtyBase)
		}

		now := time.Now().UTC()
		res = &domain.Reservation{
			ID:         uuid.New().String(),
			ItemID:     in.ItemID,
			LocationID: in.LocationID,
			EventID:    in.EventID,
			QtyBase:    in.QtyBase,
			StartTs:    in.StartTs,
			EndTs:      in.EndTs,
			Status:     domain.ReservationHeld,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := m.reservations.CreateReservation(ctx, *res); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}

		m.audit(ctx, res, domain.EventReservationHold, in.PostedBy)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, in.ItemID)
	m.logger.Info("reservation created",
		zap.String("res_id", res.ID),
		zap.String("item_id", res.ItemID),
		zap.String("location_id", res.LocationID),
		zap.String("qty_base", res.QtyBase.String()))
	return res, nil
}

// Transition moves a HELD reservation to RELEASED or FULFILLED. Terminal
// states are immutable. FULFILL records that the hold's purpose was realized;
// the caller separately posts the actual movement, because fulfillment may
// physically occur at a different time or quantity than originally held.
func (m *ReservationManager) Transition(ctx context.Context, resID string, action domain.ReservationAction) (*domain.Reservation, error) {
	var target domain.ReservationStatus
	switch action {
	case domain.ActionRelease:
		target = domain.ReservationReleased
	case domain.ActionFulfill:
		target = domain.ReservationFulfilled
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidStateTransition, action)
	}

	res, err := m.reservations.GetReservation(ctx, resID)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, resID)
	}

	err = m.gate.WithLock([]string{domain.LedgerKey(res.ItemID, res.LocationID)}, func() error {
		changed, err := m.reservations.UpdateReservationStatus(ctx, resID, domain.ReservationHeld, target)
		if err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if !changed {
			return fmt.Errorf("%w: reservation %s is not HELD", domain.ErrInvalidStateTransition, resID)
		}

		res.Status = target
		res.UpdatedAt = time.Now().UTC()
		if action == domain.ActionRelease {
			m.audit(ctx, res, domain.EventReservationRelease, "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, res.ItemID)
	m.logger.Info("reservation transitioned",
		zap.String("res_id", resID),
		zap.String("status", string(target)))
	return res, nil
}

func (m *ReservationManager) Get(ctx context.Context, resID string) (*domain.Reservation, error) {
	res, err := m.reservations.GetReservation(ctx, resID)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, resID)
	}
	return res, nil
}

func (m *ReservationManager) List(ctx context.Context, f port.ReservationFilter) ([]domain.Reservation, error) {
	return m.reservations.ListReservations(ctx, f)
}

// audit appends a zero-quantity hold/release entry. It exists purely for
// history; the reservation row is the authoritative bookkeeping, so a failed
// audit append is logged and not surfaced. Callers hold the gate for the
// (item, location) key, so the postedAt clamp sees a stable newest entry.
func (m *ReservationManager) audit(ctx context.Context, res *domain.Reservation, eventType domain.EventType, postedBy string) {
	postedAt, err := nextPostedAt(ctx, m.ledger, res.ItemID, res.LocationID)
	if err != nil {
		m.logger.Warn("reservation audit clamp failed",
			zap.String("res_id", res.ID), zap.Error(err))
		postedAt = time.Now().UTC()
	}

	entry := domain.LedgerEntry{
		ID:         uuid.New().String(),
		ItemID:     res.ItemID,
		LocationID: res.LocationID,
		EventType:  eventType,
		QtyBase:    decimal.Zero,
		SourceDoc:  res.ID,
		PostedBy:   postedBy,
		PostedAt:   postedAt,
	}
	if err := m.ledger.AppendBatch(ctx, []domain.LedgerEntry{entry}); err != nil {
		m.logger.Warn("reservation audit append failed",
			zap.String("res_id", res.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (m *ReservationManager) invalidate(ctx context.Context, itemID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidateSummary(ctx, itemID); err != nil {
		m.logger.Warn("summary invalidation failed", zap.String("item_id", itemID), zap.Error(err))
	}
}
