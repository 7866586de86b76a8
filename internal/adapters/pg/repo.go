package pg

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

const (
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
	lockNotAvailableCode     = "55P03"
)

// Repository owns all SQL against the capacity store. Lock order is hold
// row before pool row; Acquire takes only the pool row, so the orders
// cannot cycle.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a transaction with a bounded lock wait. Contention
// outcomes (lock timeout, deadlock victim, serialization failure) map to
// domain.ErrLockContention so the manager can retry them uniformly.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '2s'"); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapPgError(err)
	}

	return mapPgError(tx.Commit(ctx))
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case serializationFailureCode, deadlockDetectedCode, lockNotAvailableCode:
			return errors.WithSecondaryError(domain.ErrLockContention, err)
		}
	}
	return err
}

func (r *Repository) CreatePool(ctx context.Context, pool domain.CapacityPool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO capacity_pools (id, kind, capacity)
		VALUES ($1, $2, $3)
	`, pool.ID, pool.Kind, pool.Capacity)
	return err
}

func (r *Repository) GetPool(ctx context.Context, id uuid.UUID) (*domain.CapacityPool, error) {
	var p domain.CapacityPool
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, capacity, confirmed_count, created_at
		FROM capacity_pools WHERE id = $1
	`, id).Scan(&p.ID, &p.Kind, &p.Capacity, &p.ConfirmedCount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// LockPool takes the pool's exclusive row lock. All capacity math for the
// pool happens behind this lock.
func (r *Repository) LockPool(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.CapacityPool, error) {
	var p domain.CapacityPool
	err := tx.QueryRow(ctx, `
		SELECT id, kind, capacity, confirmed_count, created_at
		FROM capacity_pools WHERE id = $1 FOR UPDATE
	`, id).Scan(&p.ID, &p.Kind, &p.Capacity, &p.ConfirmedCount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveHoldTotal sums quantities of holds still counting against the pool.
// Expiry is judged by timestamp so a late sweep cannot cause oversell.
func (r *Repository) ActiveHoldTotal(ctx context.Context, tx pgx.Tx, poolID uuid.UUID, now time.Time) (int32, error) {
	var total int32
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM holds
		WHERE pool_id = $1 AND status = 'active' AND expires_at > $2
	`, poolID, now).Scan(&total)
	return total, err
}

func (r *Repository) InsertHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO holds (id, pool_id, owner_ref, quantity, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, hold.ID, hold.PoolID, hold.OwnerRef, hold.Quantity, hold.Status, hold.CreatedAt, hold.ExpiresAt)
	return err
}

func (r *Repository) GetHold(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	return r.scanHold(r.pool.QueryRow(ctx, `
		SELECT id, pool_id, owner_ref, quantity, status, created_at, expires_at, released_at, confirmed_at
		FROM holds WHERE id = $1
	`, id))
}

// LockHold takes the hold's row lock. Callers lock the hold before its
// pool, matching the sweeper's order.
func (r *Repository) LockHold(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Hold, error) {
	return r.scanHold(tx.QueryRow(ctx, `
		SELECT id, pool_id, owner_ref, quantity, status, created_at, expires_at, released_at, confirmed_at
		FROM holds WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *Repository) scanHold(row pgx.Row) (*domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.PoolID, &h.OwnerRef, &h.Quantity, &h.Status,
		&h.CreatedAt, &h.ExpiresAt, &h.ReleasedAt, &h.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Repository) MarkHoldReleased(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE holds SET status = 'released', released_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *Repository) MarkHoldConfirmed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE holds SET status = 'confirmed', confirmed_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *Repository) UpdateHoldExpiry(ctx context.Context, tx pgx.Tx, id uuid.UUID, expiresAt time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE holds SET expires_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, expiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// IncrementConfirmed is the only statement that raises confirmed_count,
// always inside the same transaction that flips the hold to confirmed.
func (r *Repository) IncrementConfirmed(ctx context.Context, tx pgx.Tx, poolID uuid.UUID, quantity int32) error {
	result, err := tx.Exec(ctx, `
		UPDATE capacity_pools SET confirmed_count = confirmed_count + $2
		WHERE id = $1
	`, poolID, quantity)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPoolNotFound
	}
	return nil
}

// SelectExpiredHolds locks a batch of expired active holds, skipping rows
// another sweeper already has, so overlapping sweeps never block each other.
func (r *Repository) SelectExpiredHolds(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.Hold, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, pool_id, owner_ref, quantity, status, created_at, expires_at, released_at, confirmed_at
		FROM holds
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.ID, &h.PoolID, &h.OwnerRef, &h.Quantity, &h.Status,
			&h.CreatedAt, &h.ExpiresAt, &h.ReleasedAt, &h.ConfirmedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// PoolExpiryCount is one row of the dry-run sweep report.
type PoolExpiryCount struct {
	PoolID   uuid.UUID
	Kind     domain.PoolKind
	Holds    int32
	Quantity int32
}

func (r *Repository) ExpiryReport(ctx context.Context, now time.Time) ([]PoolExpiryCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.pool_id, p.kind, COUNT(*), COALESCE(SUM(h.quantity), 0)
		FROM holds h
		JOIN capacity_pools p ON p.id = h.pool_id
		WHERE h.status = 'active' AND h.expires_at <= $1
		GROUP BY h.pool_id, p.kind
		ORDER BY COUNT(*) DESC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []PoolExpiryCount
	for rows.Next() {
		var c PoolExpiryCount
		if err := rows.Scan(&c.PoolID, &c.Kind, &c.Holds, &c.Quantity); err != nil {
			return nil, err
		}
		report = append(report, c)
	}
	return report, rows.Err()
}

// AvailabilitySnapshot projects a pool in one statement, so the figure
// cannot straddle a concurrent sweep. Advisory only: Acquire always
// re-checks under the pool lock.
func (r *Repository) AvailabilitySnapshot(ctx context.Context, poolID uuid.UUID, now time.Time) (*domain.AvailabilitySummary, error) {
	var s domain.AvailabilitySummary
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.kind, p.capacity, p.confirmed_count,
			COALESCE(SUM(h.quantity) FILTER (WHERE h.status = 'active' AND h.expires_at > $2), 0)
		FROM capacity_pools p
		LEFT JOIN holds h ON h.pool_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, p.kind, p.capacity, p.confirmed_count
	`, poolID, now).Scan(&s.PoolID, &s.Kind, &s.Capacity, &s.Confirmed, &s.ActiveHolds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}

	if s.Capacity == nil {
		s.Unlimited = true
		return &s, nil
	}
	s.Available = *s.Capacity - s.Confirmed - s.ActiveHolds
	if s.Available < 0 {
		s.Available = 0
	}
	s.SoldOut = s.Available == 0
	return &s, nil
}
