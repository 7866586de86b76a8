package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldReleased  HoldStatus = "released"
	HoldConfirmed HoldStatus = "confirmed"
)

// Hold reserves Quantity units of one pool until ExpiresAt. Released and
// confirmed are terminal; rows are kept forever for audit.
type Hold struct {
	ID          uuid.UUID
	PoolID      uuid.UUID
	OwnerRef    string
	Quantity    int32
	Status      HoldStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ReleasedAt  *time.Time
	ConfirmedAt *time.Time
}

func NewHold(poolID uuid.UUID, ownerRef string, quantity int32, ttl time.Duration) Hold {
	now := time.Now().UTC()
	return Hold{
		ID:        uuid.New(),
		PoolID:    poolID,
		OwnerRef:  ownerRef,
		Quantity:  quantity,
		Status:    HoldActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired is evaluated by timestamp, never by status. A hold past its
// deadline stops counting against availability even before the sweeper
// flips its row.
func (h Hold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// Confirmable reports whether Confirm may still succeed.
func (h Hold) Confirmable(now time.Time) bool {
	return h.Status == HoldActive && !h.Expired(now)
}
