package port

import (
	"context"
	"time"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

// ReservationFilter narrows a reservation listing. Zero-valued fields are ignored.
type ReservationFilter struct {
	ItemID     string
	LocationID string
	EventID    string
	Status     domain.ReservationStatus
}

type ReservationRepository interface {
	// CreateReservation inserts a new reservation in HELD status.
	CreateReservation(ctx context.Context, r domain.Reservation) error

	// GetReservation returns the reservation or nil when it does not exist.
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// ListReservations returns reservations matching the filter, newest first.
	ListReservations(ctx context.Context, f ReservationFilter) ([]domain.Reservation, error)

	// OverlappingHeld returns HELD reservations whose [startTs, endTs) window
	// intersects [from, to). An empty locationID matches all locations.
	OverlappingHeld(ctx context.Context, itemID, locationID string, from, to time.Time) ([]domain.Reservation, error)

	// UpdateReservationStatus transitions id from one status to another with an
	// optimistic guard: it reports whether a row actually changed, so two
	// racing transitions cannot both win.
	UpdateReservationStatus(ctx context.Context, id string, from, to domain.ReservationStatus) (bool, error)
}
