package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avelartours/capacity-engine/internal/domain"
)

// Cache holds short-lived availability projections for listing traffic and
// the acquire pre-check. Errors degrade to a cache miss; the store stays
// authoritative.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func availabilityKey(poolID uuid.UUID) string {
	return "avail:" + poolID.String()
}

func (c *Cache) GetAvailability(ctx context.Context, poolID uuid.UUID) (*domain.AvailabilitySummary, bool) {
	val, err := c.client.Get(ctx, availabilityKey(poolID)).Bytes()
	if err != nil {
		return nil, false
	}
	var s domain.AvailabilitySummary
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *Cache) SetAvailability(ctx context.Context, poolID uuid.UUID, s domain.AvailabilitySummary, ttl time.Duration) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	c.client.Set(ctx, availabilityKey(poolID), data, ttl)
}

func (c *Cache) InvalidateAvailability(ctx context.Context, poolID uuid.UUID) {
	c.client.Del(ctx, availabilityKey(poolID))
}
