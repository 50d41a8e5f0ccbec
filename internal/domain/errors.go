package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound is returned by stores when the order id is unknown.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVersionConflict signals a lost optimistic compare-and-swap; the
	// caller refetches and retries.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrUnknownItemStatus rejects a kitchen status outside the tenant's
	// workflow at the point of assignment.
	ErrUnknownItemStatus = errors.New("item status not in workflow")
	// ErrLineNotFound is returned when a line item id is unknown.
	ErrLineNotFound = errors.New("line item not found")
)

// InvalidTransitionError rejects a status change not present in the
// transition table. The order is left untouched.
type InvalidTransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// PricingInputError rejects a malformed line item, a missing reference
// under strict mode, or a non-positive final charge with attached payment.
type PricingInputError struct {
	Reason string
}

func (e *PricingInputError) Error() string { return "pricing input: " + e.Reason }

// ConnectivityError wraps an unreachable tenant storage handle. It is fatal
// to the current request and never retried inside the registry.
type ConnectivityError struct {
	Tenant string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("tenant %s storage unreachable: %v", e.Tenant, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// SubscriptionError wraps a change-feed failure. The subscription is torn
// down and lazily re-established on the next join.
type SubscriptionError struct {
	Tenant string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("tenant %s change feed: %v", e.Tenant, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// PromotionFailure records a single scheduled order that could not be
// promoted. It never aborts the rest of the batch.
type PromotionFailure struct {
	OrderID string
	Err     error
}

func (e *PromotionFailure) Error() string {
	return fmt.Sprintf("promote order %s: %v", e.OrderID, e.Err)
}

func (e *PromotionFailure) Unwrap() error { return e.Err }
