package holds

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

const (
	maxLockRetries = 3
	baseBackoff    = 50 * time.Millisecond
)

// AvailabilityCache is the advisory read-side cache. A miss or a nil cache
// just means skipping the pre-check; correctness never depends on it.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, poolID uuid.UUID) (*domain.AvailabilitySummary, bool)
	SetAvailability(ctx context.Context, poolID uuid.UUID, s domain.AvailabilitySummary, ttl time.Duration)
	InvalidateAvailability(ctx context.Context, poolID uuid.UUID)
}

// AuditTrail records hold transitions out of band. Failures are logged,
// never propagated into the transition outcome.
type AuditTrail interface {
	RecordTransition(ctx context.Context, action string, hold domain.Hold) error
}

// Manager is the transactional core. Every transition runs inside one
// store transaction holding the pool's row lock; nothing else in the
// process mutates pool counters.
type Manager struct {
	repo   *pg.Repository
	cache  AvailabilityCache
	audit  AuditTrail
	logger observability.Logger
}

func NewManager(repo *pg.Repository, cache AvailabilityCache, audit AuditTrail, logger observability.Logger) *Manager {
	return &Manager{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Acquire reserves quantity units of the pool until now+ttl. Returns
// InsufficientCapacityError with the current available figure when the
// pool cannot cover the request.
func (m *Manager) Acquire(ctx context.Context, poolID uuid.UUID, ownerRef string, quantity int32, ttl time.Duration) (*domain.Hold, error) {
	if ttl <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "ttl must be positive")
	}
	return m.AcquireUntil(ctx, poolID, ownerRef, quantity, time.Now().UTC().Add(ttl))
}

// AcquireUntil is Acquire with an absolute deadline, so sibling holds of a
// multi-pool checkout can share one expiry.
func (m *Manager) AcquireUntil(ctx context.Context, poolID uuid.UUID, ownerRef string, quantity int32, expiresAt time.Time) (*domain.Hold, error) {
	if quantity <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "quantity must be positive")
	}
	if !expiresAt.After(time.Now()) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "expiry must be in the future")
	}

	// Advisory pre-check: skip the row lock for obviously doomed requests.
	// The locked re-check below is the only authoritative one.
	if m.cache != nil {
		if s, ok := m.cache.GetAvailability(ctx, poolID); ok && !s.Unlimited && s.Available < quantity {
			observability.AcquiresTotal.WithLabelValues(string(s.Kind), "precheck_insufficient").Inc()
			return nil, &domain.InsufficientCapacityError{Requested: quantity, Available: s.Available}
		}
	}

	var hold domain.Hold
	var kind domain.PoolKind
	err := m.withRetry(ctx, func() error {
		return m.repo.WithTx(ctx, func(tx pgx.Tx) error {
			pool, err := m.repo.LockPool(ctx, tx, poolID)
			if err != nil {
				return err
			}
			kind = pool.Kind

			if !pool.Unlimited() {
				now := time.Now().UTC()
				held, err := m.repo.ActiveHoldTotal(ctx, tx, poolID, now)
				if err != nil {
					return err
				}
				available := *pool.Capacity - pool.ConfirmedCount - held
				if available < 0 {
					available = 0
				}
				if available < quantity {
					return &domain.InsufficientCapacityError{Requested: quantity, Available: available}
				}
			}

			hold = domain.Hold{
				ID:        uuid.New(),
				PoolID:    poolID,
				OwnerRef:  ownerRef,
				Quantity:  quantity,
				Status:    domain.HoldActive,
				CreatedAt: time.Now().UTC(),
				ExpiresAt: expiresAt,
			}
			if err := m.repo.InsertHold(ctx, tx, hold); err != nil {
				return err
			}
			return m.repo.InsertOutbox(ctx, tx, pg.NewHoldEvent("hold.created", hold))
		})
	})
	if err != nil {
		if domain.IsInsufficientCapacity(err) {
			observability.AcquiresTotal.WithLabelValues(string(kind), "insufficient").Inc()
		} else {
			observability.AcquiresTotal.WithLabelValues(string(kind), "error").Inc()
		}
		return nil, err
	}

	observability.AcquiresTotal.WithLabelValues(string(kind), "ok").Inc()
	m.afterTransition(ctx, "hold.created", hold)
	return &hold, nil
}

// Release is idempotent: released and confirmed holds are a no-op.
// Confirmed holds are never un-allocated here.
func (m *Manager) Release(ctx context.Context, holdID uuid.UUID) error {
	return m.release(ctx, holdID, "caller")
}

func (m *Manager) release(ctx context.Context, holdID uuid.UUID, trigger string) error {
	var released *domain.Hold
	err := m.withRetry(ctx, func() error {
		return m.repo.WithTx(ctx, func(tx pgx.Tx) error {
			hold, err := m.repo.LockHold(ctx, tx, holdID)
			if err != nil {
				return err
			}
			if hold.Status != domain.HoldActive {
				return nil
			}
			if _, err := m.repo.LockPool(ctx, tx, hold.PoolID); err != nil {
				return err
			}
			now := time.Now().UTC()
			if err := m.repo.MarkHoldReleased(ctx, tx, holdID, now); err != nil {
				return err
			}
			hold.Status = domain.HoldReleased
			hold.ReleasedAt = &now
			released = hold
			return m.repo.InsertOutbox(ctx, tx, pg.NewHoldEvent("hold.released", *hold))
		})
	})
	if err != nil {
		return err
	}
	if released != nil {
		observability.HoldsReleasedTotal.WithLabelValues(trigger).Inc()
		m.afterTransition(ctx, "hold.released", *released)
	}
	return nil
}

// Confirm turns the reservation into a permanent allocation. This is the
// only path that raises confirmed_count. A hold past its deadline fails
// with HoldNotActiveError even if the sweeper has not flipped it yet:
// payment completing after expiry must surface for reconciliation, never
// silently allocate reclaimed capacity.
func (m *Manager) Confirm(ctx context.Context, holdID uuid.UUID) error {
	var confirmed domain.Hold
	err := m.withRetry(ctx, func() error {
		return m.repo.WithTx(ctx, func(tx pgx.Tx) error {
			hold, err := m.repo.LockHold(ctx, tx, holdID)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if !hold.Confirmable(now) {
				return &domain.HoldNotActiveError{Status: hold.Status, Expired: hold.Expired(now)}
			}
			if _, err := m.repo.LockPool(ctx, tx, hold.PoolID); err != nil {
				return err
			}
			if err := m.repo.MarkHoldConfirmed(ctx, tx, holdID, now); err != nil {
				return err
			}
			if err := m.repo.IncrementConfirmed(ctx, tx, hold.PoolID, hold.Quantity); err != nil {
				return err
			}
			hold.Status = domain.HoldConfirmed
			hold.ConfirmedAt = &now
			confirmed = *hold
			return m.repo.InsertOutbox(ctx, tx, pg.NewHoldEvent("hold.confirmed", *hold))
		})
	})
	if err != nil {
		if domain.IsHoldNotActive(err) {
			observability.ConfirmNotActiveTotal.Inc()
			m.logger.WithField("hold_id", holdID).WithError(err).Error("confirm on non-active hold, needs reconciliation")
		}
		return err
	}

	observability.HoldsConfirmedTotal.Inc()
	m.afterTransition(ctx, "hold.confirmed", confirmed)
	return nil
}

// Extend pushes the deadline forward for long checkout flows. Capping the
// total extension is the caller's responsibility.
func (m *Manager) Extend(ctx context.Context, holdID uuid.UUID, additional time.Duration) (*domain.Hold, error) {
	if additional <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "extension must be positive")
	}

	var extended domain.Hold
	err := m.withRetry(ctx, func() error {
		return m.repo.WithTx(ctx, func(tx pgx.Tx) error {
			hold, err := m.repo.LockHold(ctx, tx, holdID)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if !hold.Confirmable(now) {
				return &domain.HoldNotActiveError{Status: hold.Status, Expired: hold.Expired(now)}
			}
			if _, err := m.repo.LockPool(ctx, tx, hold.PoolID); err != nil {
				return err
			}
			newExpiry := hold.ExpiresAt.Add(additional)
			if err := m.repo.UpdateHoldExpiry(ctx, tx, holdID, newExpiry); err != nil {
				return err
			}
			hold.ExpiresAt = newExpiry
			extended = *hold
			return m.repo.InsertOutbox(ctx, tx, pg.NewHoldEvent("hold.extended", *hold))
		})
	})
	if err != nil {
		return nil, err
	}

	m.afterTransition(ctx, "hold.extended", extended)
	return &extended, nil
}

func (m *Manager) afterTransition(ctx context.Context, action string, hold domain.Hold) {
	if m.cache != nil {
		m.cache.InvalidateAvailability(ctx, hold.PoolID)
	}
	if m.audit != nil {
		if err := m.audit.RecordTransition(ctx, action, hold); err != nil {
			m.logger.WithField("hold_id", hold.ID).WithError(err).Warn("audit write failed")
		}
	}
}

// withRetry retries lock-contention outcomes with jittered backoff.
// Business outcomes surface immediately.
func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrLockContention) {
			return err
		}
		if attempt >= maxLockRetries {
			return err
		}
		observability.LockRetriesTotal.Inc()
		backoff := baseBackoff<<attempt + time.Duration(rand.Int63n(int64(baseBackoff)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
