package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationFulfilled ReservationStatus = "FULFILLED"
)

type ReservationAction string

const (
	ActionRelease ReservationAction = "RELEASE"
	ActionFulfill ReservationAction = "FULFILL"
)

// Reservation is a time-bounded hold against future availability. It never
// moves stock itself; the window is half-open [StartTs, EndTs).
type Reservation struct {
	ID         string            `json:"resId"`
	ItemID     string            `json:"itemId"`
	LocationID string            `json:"locationId"`
	EventID    string            `json:"eventId"`
	QtyBase    decimal.Decimal   `json:"qtyBase"`
	StartTs    time.Time         `json:"startTs"`
	EndTs      time.Time         `json:"endTs"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Overlaps reports whether the hold's window intersects [from, to).
func (r Reservation) Overlaps(from, to time.Time) bool {
	return r.StartTs.Before(to) && r.EndTs.After(from)
}
