package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avelartours/capacity-engine/internal/domain"
)

func TestHoldExpiryByTimestamp(t *testing.T) {
	now := time.Now().UTC()
	hold := domain.NewHold(uuid.New(), "order-1", 2, 10*time.Minute)

	if hold.Expired(now) {
		t.Error("fresh hold must not be expired")
	}
	if !hold.Expired(hold.ExpiresAt) {
		t.Error("hold is expired exactly at its deadline")
	}
	if !hold.Expired(hold.ExpiresAt.Add(time.Second)) {
		t.Error("hold past deadline must be expired")
	}
}

func TestHoldConfirmable(t *testing.T) {
	now := time.Now().UTC()

	hold := domain.NewHold(uuid.New(), "order-2", 1, time.Minute)
	if !hold.Confirmable(now) {
		t.Error("active unexpired hold must be confirmable")
	}

	hold.Status = domain.HoldReleased
	if hold.Confirmable(now) {
		t.Error("released hold must not be confirmable")
	}

	hold.Status = domain.HoldActive
	hold.ExpiresAt = now.Add(-time.Second)
	if hold.Confirmable(now) {
		t.Error("expired hold must not be confirmable even while still active")
	}
}

func TestPoolKindValid(t *testing.T) {
	for _, kind := range []domain.PoolKind{domain.KindTicketTier, domain.KindInstanceCapacity, domain.KindResource} {
		if !kind.Valid() {
			t.Errorf("%s should be valid", kind)
		}
	}
	if domain.PoolKind("coupon").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestErrorPredicates(t *testing.T) {
	ic := &domain.InsufficientCapacityError{Requested: 2, Available: 1}
	if !domain.IsInsufficientCapacity(ic) {
		t.Error("IsInsufficientCapacity should match")
	}
	if domain.IsInsufficientCapacity(domain.ErrHoldNotFound) {
		t.Error("IsInsufficientCapacity should not match other errors")
	}

	na := &domain.HoldNotActiveError{Status: domain.HoldReleased}
	if !domain.IsHoldNotActive(na) {
		t.Error("IsHoldNotActive should match")
	}
	if domain.IsHoldNotActive(ic) {
		t.Error("IsHoldNotActive should not match capacity errors")
	}
}
