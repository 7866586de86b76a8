package holds

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/domain"
)

const defaultCacheTTL = 5 * time.Second

// AvailabilityCalculator serves the read side: listing endpoints and the
// acquire pre-check. The snapshot comes from one SQL statement, so it
// never straddles a concurrent sweep. Figures are advisory; Acquire always
// re-checks under the pool lock.
type AvailabilityCalculator struct {
	repo     *pg.Repository
	cache    AvailabilityCache
	cacheTTL time.Duration
}

func NewAvailabilityCalculator(repo *pg.Repository, cache AvailabilityCache) *AvailabilityCalculator {
	return &AvailabilityCalculator{repo: repo, cache: cache, cacheTTL: defaultCacheTTL}
}

func (c *AvailabilityCalculator) Available(ctx context.Context, poolID uuid.UUID) (*domain.AvailabilitySummary, error) {
	if c.cache != nil {
		if s, ok := c.cache.GetAvailability(ctx, poolID); ok {
			return s, nil
		}
	}

	s, err := c.repo.AvailabilitySnapshot(ctx, poolID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetAvailability(ctx, poolID, *s, c.cacheTTL)
	}
	return s, nil
}
