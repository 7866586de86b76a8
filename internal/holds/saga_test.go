package holds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/observability"
)

// fakeEngine implements the group coordinator's engine surface in memory.
type fakeEngine struct {
	mu        sync.Mutex
	available map[uuid.UUID]int32
	holds     map[uuid.UUID]*domain.Hold
	released  []uuid.UUID
}

func newFakeEngine(pools map[uuid.UUID]int32) *fakeEngine {
	return &fakeEngine{
		available: pools,
		holds:     make(map[uuid.UUID]*domain.Hold),
	}
}

func (f *fakeEngine) AcquireUntil(_ context.Context, poolID uuid.UUID, ownerRef string, quantity int32, expiresAt time.Time) (*domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	avail, ok := f.available[poolID]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	if avail < quantity {
		return nil, &domain.InsufficientCapacityError{Requested: quantity, Available: avail}
	}
	f.available[poolID] = avail - quantity

	hold := domain.NewHold(poolID, ownerRef, quantity, time.Minute)
	hold.ExpiresAt = expiresAt
	f.holds[hold.ID] = &hold
	return &hold, nil
}

func (f *fakeEngine) Release(_ context.Context, holdID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if hold.Status != domain.HoldActive {
		return nil
	}
	hold.Status = domain.HoldReleased
	f.available[hold.PoolID] += hold.Quantity
	f.released = append(f.released, holdID)
	return nil
}

func (f *fakeEngine) Confirm(_ context.Context, holdID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hold, ok := f.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	if hold.Status != domain.HoldActive {
		return &domain.HoldNotActiveError{Status: hold.Status}
	}
	hold.Status = domain.HoldConfirmed
	return nil
}

func newTestGroup(e *fakeEngine) *Group {
	return &Group{engine: e, logger: observability.NewLogger()}
}

func TestAcquireGroupSharedExpiry(t *testing.T) {
	ctx := context.Background()
	tier := uuid.New()
	kayaks := uuid.New()
	engine := newFakeEngine(map[uuid.UUID]int32{tier: 10, kayaks: 4})
	group := newTestGroup(engine)

	acquired, err := group.AcquireGroup(ctx, "order-1", 15*time.Minute, []GroupItem{
		{PoolID: tier, Quantity: 2},
		{PoolID: kayaks, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("group acquire failed: %v", err)
	}
	if len(acquired) != 2 {
		t.Fatalf("expected 2 holds, got %d", len(acquired))
	}
	if !acquired[0].ExpiresAt.Equal(acquired[1].ExpiresAt) {
		t.Errorf("sibling holds must share expiry: %v vs %v", acquired[0].ExpiresAt, acquired[1].ExpiresAt)
	}
	if acquired[0].OwnerRef != "order-1" || acquired[1].OwnerRef != "order-1" {
		t.Error("holds must carry the group owner ref")
	}
}

func TestAcquireGroupCompensatesOnFailure(t *testing.T) {
	ctx := context.Background()
	tier := uuid.New()
	kayaks := uuid.New()
	engine := newFakeEngine(map[uuid.UUID]int32{tier: 10, kayaks: 1})
	group := newTestGroup(engine)

	_, err := group.AcquireGroup(ctx, "order-2", 15*time.Minute, []GroupItem{
		{PoolID: tier, Quantity: 2},
		{PoolID: kayaks, Quantity: 2},
	})
	if !domain.IsInsufficientCapacity(err) {
		t.Fatalf("expected InsufficientCapacityError, got %v", err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.available[tier] != 10 {
		t.Errorf("tier hold must be compensated, available=%d", engine.available[tier])
	}
	if engine.available[kayaks] != 1 {
		t.Errorf("kayak pool must be untouched, available=%d", engine.available[kayaks])
	}
	for _, hold := range engine.holds {
		if hold.Status == domain.HoldActive {
			t.Errorf("no hold should stay active after compensation, %s is", hold.ID)
		}
	}
}

func TestReleaseGroupIdempotent(t *testing.T) {
	ctx := context.Background()
	tier := uuid.New()
	engine := newFakeEngine(map[uuid.UUID]int32{tier: 5})
	group := newTestGroup(engine)

	acquired, err := group.AcquireGroup(ctx, "order-3", time.Minute, []GroupItem{{PoolID: tier, Quantity: 3}})
	if err != nil {
		t.Fatal(err)
	}

	ids := []uuid.UUID{acquired[0].ID}
	if err := group.ReleaseGroup(ctx, ids); err != nil {
		t.Fatalf("release group failed: %v", err)
	}
	if err := group.ReleaseGroup(ctx, ids); err != nil {
		t.Fatalf("repeated release group must be a no-op, got %v", err)
	}
	if engine.available[tier] != 5 {
		t.Errorf("expected availability restored, got %d", engine.available[tier])
	}
}

func TestConfirmGroupStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	tier := uuid.New()
	kayaks := uuid.New()
	engine := newFakeEngine(map[uuid.UUID]int32{tier: 5, kayaks: 5})
	group := newTestGroup(engine)

	acquired, err := group.AcquireGroup(ctx, "order-4", time.Minute, []GroupItem{
		{PoolID: tier, Quantity: 1},
		{PoolID: kayaks, Quantity: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Second hold is gone by the time the caller confirms.
	if err := engine.Release(ctx, acquired[1].ID); err != nil {
		t.Fatal(err)
	}

	confirmed, err := group.ConfirmGroup(ctx, []uuid.UUID{acquired[0].ID, acquired[1].ID})
	if !domain.IsHoldNotActive(err) {
		t.Fatalf("expected HoldNotActiveError, got %v", err)
	}
	if len(confirmed) != 1 || confirmed[0] != acquired[0].ID {
		t.Errorf("expected exactly the first hold reported confirmed, got %v", confirmed)
	}
}

func TestAcquireGroupValidatesInput(t *testing.T) {
	group := newTestGroup(newFakeEngine(nil))

	if _, err := group.AcquireGroup(context.Background(), "o", time.Minute, nil); err == nil {
		t.Error("expected error for empty group")
	}
	if _, err := group.AcquireGroup(context.Background(), "o", 0, []GroupItem{{PoolID: uuid.New(), Quantity: 1}}); err == nil {
		t.Error("expected error for zero ttl")
	}
}
