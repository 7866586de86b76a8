package domain

import (
	"time"

	"github.com/google/uuid"
)

// PoolKind tags which product shape a pool backs. The engine treats all
// kinds identically; the tag preserves per-kind audit trails.
type PoolKind string

const (
	KindTicketTier       PoolKind = "ticket_tier"
	KindInstanceCapacity PoolKind = "instance_capacity"
	KindResource         PoolKind = "resource"
)

func (k PoolKind) Valid() bool {
	switch k {
	case KindTicketTier, KindInstanceCapacity, KindResource:
		return true
	}
	return false
}

// CapacityPool is the authoritative counter pair for one sellable unit.
// Capacity nil means unlimited. ConfirmedCount only ever increases, and
// only inside a Confirm transaction holding the pool row lock.
type CapacityPool struct {
	ID             uuid.UUID
	Kind           PoolKind
	Capacity       *int32
	ConfirmedCount int32
	CreatedAt      time.Time
}

func (p CapacityPool) Unlimited() bool {
	return p.Capacity == nil
}

func NewCapacityPool(kind PoolKind, capacity *int32) CapacityPool {
	return CapacityPool{
		ID:       uuid.New(),
		Kind:     kind,
		Capacity: capacity,
	}
}

// AvailabilitySummary is a point-in-time projection of a pool. Unlimited
// pools report Unlimited=true and Available is meaningless.
type AvailabilitySummary struct {
	PoolID      uuid.UUID
	Kind        PoolKind
	Capacity    *int32
	Confirmed   int32
	ActiveHolds int32
	Available   int32
	Unlimited   bool
	SoldOut     bool
}
