package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarterhill/stockledger/internal/core/domain"
)

const (
	summaryKeyPrefix  = "summary:"
	idempotencyPrefix = "idempotency:"
	idempotencyKeyTTL = 24 * time.Hour
)

// RedisAdapter holds the idempotency keys and the materialized summary cache.
// Nothing here is authoritative: every value can be rebuilt from the ledger.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyPrefix+key).Err()
}

func (r *RedisAdapter) GetSummary(ctx context.Context, itemID string) (*domain.OnHandSummary, bool, error) {
	raw, err := r.client.Get(ctx, summaryKeyPrefix+itemID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var s domain.OnHandSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return &s, true, nil
}

func (r *RedisAdapter) SetSummary(ctx context.Context, itemID string, s domain.OnHandSummary, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return r.client.Set(ctx, summaryKeyPrefix+itemID, raw, ttl).Err()
}

func (r *RedisAdapter) InvalidateSummary(ctx context.Context, itemID string) error {
	return r.client.Del(ctx, summaryKeyPrefix+itemID).Err()
}
