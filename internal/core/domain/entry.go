package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventReceipt            EventType = "RECEIPT"
	EventTransferOut        EventType = "TRANSFER_OUT"
	EventTransferIn         EventType = "TRANSFER_IN"
	EventConsumption        EventType = "CONSUMPTION"
	EventWaste              EventType = "WASTE"
	EventCountAdjust        EventType = "COUNT_ADJUST"
	EventReservationHold    EventType = "RESERVATION_HOLD"
	EventReservationRelease EventType = "RESERVATION_RELEASE"
	EventMoveOut            EventType = "MOVE_OUT"
	EventMoveIn             EventType = "MOVE_IN"
	EventMaintenanceStart   EventType = "MAINTENANCE_START"
	EventMaintenanceEnd     EventType = "MAINTENANCE_END"
)

func (e EventType) Valid() bool {
	switch e {
	case EventReceipt, EventTransferOut, EventTransferIn, EventConsumption,
		EventWaste, EventCountAdjust, EventReservationHold,
		EventReservationRelease, EventMoveOut, EventMoveIn,
		EventMaintenanceStart, EventMaintenanceEnd:
		return true
	}
	return false
}

// Sign reports how the event type signs an unsigned submitted quantity:
// +1 adds to on-hand, -1 subtracts, 0 means the quantity is carried as given
// (COUNT_ADJUST) or is always zero (reservation audit entries).
func (e EventType) Sign() int {
	switch e {
	case EventReceipt, EventTransferIn, EventMoveIn, EventMaintenanceEnd:
		return 1
	case EventTransferOut, EventConsumption, EventWaste, EventMoveOut, EventMaintenanceStart:
		return -1
	default:
		return 0
	}
}

// Outbound reports whether the type removes stock and therefore requires a
// non-negative resulting on-hand at the origin.
func (e EventType) Outbound() bool {
	return e.Sign() < 0
}

// LedgerEntry is the immutable unit of truth. Entries are only ever appended;
// corrections are posted as new COUNT_ADJUST or compensating entries.
type LedgerEntry struct {
	ID          string           `json:"entryId"`
	ItemID      string           `json:"itemId"`
	LocationID  string           `json:"locationId"`
	EventType   EventType        `json:"eventType"`
	QtyBase     decimal.Decimal  `json:"qtyBase"`
	LotID       string           `json:"lotId,omitempty"`
	SerialNo    string           `json:"serialNo,omitempty"`
	CostPerBase *decimal.Decimal `json:"costPerBase,omitempty"`
	SourceDoc   string           `json:"sourceDoc,omitempty"`
	PostedBy    string           `json:"postedBy"`
	PostedAt    time.Time        `json:"postedAt"`
}

// LedgerKey identifies the serialization domain of an entry: all invariant
// checks for one (item, location) pair happen under one gate key.
func LedgerKey(itemID, locationID string) string {
	return itemID + "\x00" + locationID
}
