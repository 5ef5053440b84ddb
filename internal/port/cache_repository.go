package port

import (
	"context"
	"time"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops a claimed key so the request id can be
	// resubmitted. Called when a posting fails after claiming its key: the
	// key must only dedupe requests that actually appended entries.
	ReleaseIdempotency(ctx context.Context, key string) error

	// GetSummary returns the cached current-instant summary for an item, if any.
	GetSummary(ctx context.Context, itemID string) (*domain.OnHandSummary, bool, error)

	// SetSummary caches the current-instant summary for an item.
	SetSummary(ctx context.Context, itemID string, s domain.OnHandSummary, ttl time.Duration) error

	// InvalidateSummary drops the cached summary; called on every append
	// touching the item so readers never see a stale materialized balance.
	InvalidateSummary(ctx context.Context, itemID string) error
}
