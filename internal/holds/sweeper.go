package holds

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

// SweepResult reports one Sweep invocation.
type SweepResult struct {
	Released int
	Errors   int
}

// Sweeper reclaims holds past their deadline. Batches lock rows with
// SKIP LOCKED, so overlapping sweeps from multiple replicas cooperate
// instead of blocking; a row held by another sweeper is picked up on the
// next pass.
type Sweeper struct {
	repo   *pg.Repository
	cache  AvailabilityCache
	audit  AuditTrail
	logger observability.Logger
}

func NewSweeper(repo *pg.Repository, cache AvailabilityCache, audit AuditTrail, logger observability.Logger) *Sweeper {
	return &Sweeper{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Sweep releases expired active holds in batches until a batch comes back
// short. Per-hold failures are counted and logged, never abort the batch.
// A pass that releases nothing also stops the loop: failed rows stay
// active with a past deadline, so the next select would return the same
// batch again.
func (s *Sweeper) Sweep(ctx context.Context, batchSize int) (SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var result SweepResult
	for {
		released, failed, err := s.sweepBatch(ctx, batchSize)
		result.Released += released
		result.Errors += failed
		if err != nil {
			return result, err
		}
		if released == 0 || released+failed < batchSize {
			return result, nil
		}
	}
}

func (s *Sweeper) sweepBatch(ctx context.Context, batchSize int) (released, failed int, err error) {
	var swept []domain.Hold
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		expired, err := s.repo.SelectExpiredHolds(ctx, tx, now, batchSize)
		if err != nil {
			return err
		}

		for _, hold := range expired {
			if err := s.releaseOne(ctx, tx, hold); err != nil {
				failed++
				observability.SweepErrorsTotal.Inc()
				s.logger.WithField("hold_id", hold.ID).WithError(err).Error("failed to release expired hold")
				continue
			}
			released++
			swept = append(swept, hold)
		}
		return nil
	})
	if err != nil {
		return released, failed, err
	}

	observability.SweepReleasedTotal.Add(float64(released))
	observability.HoldsReleasedTotal.WithLabelValues("sweep").Add(float64(released))
	for _, hold := range swept {
		if s.cache != nil {
			s.cache.InvalidateAvailability(ctx, hold.PoolID)
		}
		if s.audit != nil {
			if auditErr := s.audit.RecordTransition(ctx, "hold.expired", hold); auditErr != nil {
				s.logger.WithField("hold_id", hold.ID).WithError(auditErr).Warn("audit write failed")
			}
		}
	}
	return released, failed, nil
}

// releaseOne flips a single expired hold inside a savepoint, so one bad
// row cannot poison the rest of the batch transaction.
func (s *Sweeper) releaseOne(ctx context.Context, tx pgx.Tx, hold domain.Hold) error {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := s.repo.LockPool(ctx, nested, hold.PoolID); err != nil {
		nested.Rollback(ctx)
		return err
	}
	if err := s.repo.MarkHoldReleased(ctx, nested, hold.ID, now); err != nil {
		nested.Rollback(ctx)
		return err
	}
	if err := s.repo.InsertOutbox(ctx, nested, pg.NewHoldEvent("hold.expired", hold)); err != nil {
		nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

// DryRun reports what a sweep would reclaim, grouped by pool, without
// touching any row.
func (s *Sweeper) DryRun(ctx context.Context) ([]pg.PoolExpiryCount, error) {
	return s.repo.ExpiryReport(ctx, time.Now().UTC())
}

// Run executes Sweep on a ticker until the context is cancelled. Intended
// for the daemon mode of the sweeper binary.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx, batchSize)
			if err != nil {
				s.logger.WithError(err).Error("sweep failed")
				continue
			}
			if result.Released > 0 || result.Errors > 0 {
				s.logger.WithField("released", result.Released).
					WithField("errors", result.Errors).
					Info("sweep completed")
			}
		}
	}
}
