package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrPoolNotFound   = errors.New("pool not found")
	ErrHoldNotFound   = errors.New("hold not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrLockContention = errors.New("lock contention, retry")
)

// InsufficientCapacityError is a business outcome, not a fault: the pool
// cannot cover the requested quantity. Available lets the caller offer
// "only N left". Never retried by the engine.
type InsufficientCapacityError struct {
	Requested int32
	Available int32
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: requested %d, available %d", e.Requested, e.Available)
}

// HoldNotActiveError reports a confirm or extend against a hold that is
// released, already confirmed, or past its deadline. The expired-confirm
// case means payment landed after the hold was reclaimed and needs manual
// reconciliation.
type HoldNotActiveError struct {
	Status  HoldStatus
	Expired bool
}

func (e *HoldNotActiveError) Error() string {
	if e.Expired {
		return fmt.Sprintf("hold not active: status %s, expired", e.Status)
	}
	return fmt.Sprintf("hold not active: status %s", e.Status)
}

func IsInsufficientCapacity(err error) bool {
	var ic *InsufficientCapacityError
	return errors.As(err, &ic)
}

func IsHoldNotActive(err error) bool {
	var na *HoldNotActiveError
	return errors.As(err, &na)
}
