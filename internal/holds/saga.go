package holds

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

var _ engine = (*Manager)(nil)

// GroupItem is one pool's share of a multi-pool checkout (ticket tier plus
// zero or more resource pools).
type GroupItem struct {
	PoolID   uuid.UUID
	Quantity int32
}

// engine is the slice of Manager the group coordinator needs.
type engine interface {
	AcquireUntil(ctx context.Context, poolID uuid.UUID, ownerRef string, quantity int32, expiresAt time.Time) (*domain.Hold, error)
	Release(ctx context.Context, holdID uuid.UUID) error
	Confirm(ctx context.Context, holdID uuid.UUID) error
}

// Group coordinates holds across several pools. The engine itself offers
// no cross-pool atomicity; all-or-nothing acquisition is compensation at
// this layer: any hold taken before the failing pool is released again.
type Group struct {
	engine engine
	logger observability.Logger
}

func NewGroup(manager *Manager, logger observability.Logger) *Group {
	return &Group{engine: manager, logger: logger}
}

// AcquireGroup takes one hold per item, all sharing a single expiry.
// Items are acquired in pool-id order so two overlapping groups touching
// the same pools contend in the same sequence. On failure every hold
// already taken is released and the causal error returned.
func (g *Group) AcquireGroup(ctx context.Context, ownerRef string, ttl time.Duration, items []GroupItem) ([]domain.Hold, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "empty group")
	}
	if ttl <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "ttl must be positive")
	}

	ordered := make([]GroupItem, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].PoolID.String() < ordered[j].PoolID.String()
	})

	expiresAt := time.Now().UTC().Add(ttl)
	acquired := make([]domain.Hold, 0, len(ordered))
	for _, item := range ordered {
		hold, err := g.engine.AcquireUntil(ctx, item.PoolID, ownerRef, item.Quantity, expiresAt)
		if err != nil {
			g.compensate(ctx, acquired)
			return nil, err
		}
		acquired = append(acquired, *hold)
	}
	return acquired, nil
}

func (g *Group) compensate(ctx context.Context, acquired []domain.Hold) {
	for _, hold := range acquired {
		if err := g.engine.Release(ctx, hold.ID); err != nil {
			g.logger.WithField("hold_id", hold.ID).WithError(err).
				Error("group compensation release failed, sweep will reclaim at expiry")
		}
	}
}

// ReleaseGroup releases every hold concurrently. Release is idempotent,
// so repeating a partially failed group release is safe.
func (g *Group) ReleaseGroup(ctx context.Context, holdIDs []uuid.UUID) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range holdIDs {
		id := id
		eg.Go(func() error {
			return g.engine.Release(egCtx, id)
		})
	}
	return eg.Wait()
}

// ConfirmGroup confirms sequentially and stops at the first failure,
// returning the ids already confirmed so the caller can reconcile the
// partial allocation.
func (g *Group) ConfirmGroup(ctx context.Context, holdIDs []uuid.UUID) (confirmed []uuid.UUID, err error) {
	for _, id := range holdIDs {
		if err := g.engine.Confirm(ctx, id); err != nil {
			return confirmed, err
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, nil
}
