package holds_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/holds"
	"github.com/avelartours/capacity-engine/internal/observability"
)

func newSweeper(t *testing.T) *holds.Sweeper {
	t.Helper()
	return holds.NewSweeper(newRepo(t), nil, nil, observability.NewLogger())
}

// drainExpired clears expired holds left behind by earlier tests, so sweep
// counts below are exact.
func drainExpired(t *testing.T) {
	t.Helper()
	if _, err := newSweeper(t).Sweep(context.Background(), 100); err != nil {
		t.Fatalf("drain sweep failed: %v", err)
	}
}

func TestSweepReclaimsExactlyExpired(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	manager := newManager(t)
	sweeper := newSweeper(t)
	drainExpired(t)
	pool := createPool(t, repo, domain.KindTicketTier, capacityOf(20))

	const expiredCount = 3
	for i := 0; i < expiredCount; i++ {
		hold := domain.NewHold(pool.ID, "abandoned", 1, time.Minute)
		hold.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		insertHold(t, repo, hold)
	}

	live, err := manager.Acquire(ctx, pool.ID, "checkout", 2, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	result, err := sweeper.Sweep(ctx, 2) // batch smaller than the backlog
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Released != expiredCount || result.Errors != 0 {
		t.Errorf("expected %d released 0 errors, got %+v", expiredCount, result)
	}

	stored, err := repo.GetHold(ctx, live.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.HoldActive {
		t.Errorf("sweep must not touch unexpired holds, got status %s", stored.Status)
	}

	again, err := sweeper.Sweep(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if again.Released != 0 {
		t.Errorf("second sweep should release nothing, got %d", again.Released)
	}

	s := available(t, pool.ID)
	if s.ActiveHolds != 2 || s.Available != 18 {
		t.Errorf("expected active=2 available=18 after sweep, got %+v", s)
	}
}

func TestSweepDryRun(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	sweeper := newSweeper(t)
	pool := createPool(t, repo, domain.KindResource, capacityOf(10))

	for i := 0; i < 2; i++ {
		hold := domain.NewHold(pool.ID, "abandoned", 3, time.Minute)
		hold.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		insertHold(t, repo, hold)
	}

	report, err := sweeper.DryRun(ctx)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	var found bool
	for _, row := range report {
		if row.PoolID == pool.ID {
			found = true
			if row.Holds != 2 || row.Quantity != 6 {
				t.Errorf("expected 2 holds / 6 units for pool, got %+v", row)
			}
		}
	}
	if !found {
		t.Fatal("expected pool in dry-run report")
	}

	// Dry run must not mutate.
	s := available(t, pool.ID)
	if s.ActiveHolds != 0 {
		// expired holds do not count as active by timestamp
		t.Errorf("expected no counting holds, got %d", s.ActiveHolds)
	}
	if again, err := sweeper.DryRun(ctx); err != nil || len(again) == 0 {
		t.Errorf("dry run must leave holds in place, got %v rows err=%v", len(again), err)
	}
}

func TestSweepStopsWhenBatchCannotRelease(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	sweeper := newSweeper(t)
	drainExpired(t)
	pool := createPool(t, repo, domain.KindTicketTier, capacityOf(10))

	for i := 0; i < 5; i++ {
		hold := domain.NewHold(pool.ID, "abandoned", 1, time.Minute)
		hold.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		insertHold(t, repo, hold)
	}

	// Break the outbox insert so every release fails in its savepoint and
	// the rows stay active with a past deadline.
	if _, err := testPool.Exec(ctx, "ALTER TABLE outbox RENAME TO outbox_hidden"); err != nil {
		t.Fatal(err)
	}
	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true
		if _, err := testPool.Exec(ctx, "ALTER TABLE outbox_hidden RENAME TO outbox"); err != nil {
			t.Errorf("failed to restore outbox table: %v", err)
		}
	}
	defer restore()

	done := make(chan holds.SweepResult, 1)
	go func() {
		result, _ := sweeper.Sweep(ctx, 2)
		done <- result
	}()

	select {
	case result := <-done:
		if result.Released != 0 || result.Errors != 2 {
			t.Errorf("expected one failed batch of 2, got %+v", result)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("sweep did not terminate against a persistently failing batch")
	}

	restore()
	cleanup, err := sweeper.Sweep(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if cleanup.Released != 5 {
		t.Errorf("expected 5 holds reclaimed once the outbox is back, got %d", cleanup.Released)
	}
}

func TestSweepConcurrentWorkers(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	drainExpired(t)
	pool := createPool(t, repo, domain.KindInstanceCapacity, capacityOf(100))

	const expiredCount = 40
	for i := 0; i < expiredCount; i++ {
		hold := domain.NewHold(pool.ID, "abandoned", 1, time.Minute)
		hold.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		insertHold(t, repo, hold)
	}

	const workers = 4
	results := make([]holds.SweepResult, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			sweeper := newSweeper(t)
			result, err := sweeper.Sweep(ctx, 10)
			if err != nil {
				t.Errorf("worker sweep failed: %v", err)
				return
			}
			results[i] = result
		}()
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Released
		if r.Errors != 0 {
			t.Errorf("unexpected sweep errors: %+v", r)
		}
	}
	if total < expiredCount {
		t.Errorf("workers released %d of %d expired holds", total, expiredCount)
	}
	if total > expiredCount {
		t.Errorf("workers double-released: %d > %d", total, expiredCount)
	}
}
