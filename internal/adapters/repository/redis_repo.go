package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"chatwoot-relay/internal/core/ports"
)

// Ensure RedisRepository implements DedupRepository
var _ ports.DedupRepository = (*RedisRepository)(nil)

// dedupClient is the slice of the Redis API the dedup store needs
type dedupClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisRepository remembers which Chatwoot message ids were already relayed
type RedisRepository struct {
	client dedupClient
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// Claim sets the dedup key only if it is absent, so concurrent deliveries
// of the same Chatwoot message cannot both win.
func (r *RedisRepository) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := buildDedupKey(eventID)

	// value is the claim time, handy when inspecting keys by hand
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to claim event", "error", err, "event_id", eventID)
		return false, fmt.Errorf("claim event: %w", err)
	}
	if !ok {
		slog.Warn("Duplicate webhook event detected", "event_id", eventID, "key", key)
		return false, nil
	}

	slog.Debug("Event claimed", "event_id", eventID, "ttl", ttl)
	return true, nil
}

// Release deletes the dedup key after a failed attempt
func (r *RedisRepository) Release(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, buildDedupKey(eventID)).Err(); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	slog.Debug("Event claim released", "event_id", eventID)
	return nil
}

// Ping checks connectivity for the status endpoint
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildDedupKey constructs the Redis key for a Chatwoot message id
func buildDedupKey(eventID string) string {
	return fmt.Sprintf("dedup:chatwoot:msg:%s", eventID)
}
