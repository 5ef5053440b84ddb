package domain

import "errors"

// Error taxonomy surfaced by the posting and reservation paths. All are
// deterministic and not retryable; ErrStorageUnavailable is the one transient
// exception and is eligible for caller-side retry with backoff.
var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidQuantity          = errors.New("invalid quantity")
	ErrUnknownUnit              = errors.New("unknown unit")
	ErrSerialConflict           = errors.New("serial already on hand")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidTransfer          = errors.New("invalid transfer")
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrDuplicateRequest         = errors.New("duplicate request")
	ErrStorageUnavailable       = errors.New("storage unavailable")
)
