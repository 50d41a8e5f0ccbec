// Package statemachine validates and applies order-status transitions and
// derives the payment status from the payment aggregate.
package statemachine

import (
	"time"

	"restohub/internal/domain"
)

// PaidTolerance absorbs cent-level rounding drift when deriving "paid".
const PaidTolerance = 0.01

var transitions = map[domain.OrderStatus]map[domain.OrderStatus]bool{
	domain.StatusPending: {
		domain.StatusConfirmed: true,
		domain.StatusCanceled:  true,
	},
	domain.StatusConfirmed: {
		domain.StatusPreparing: true,
		domain.StatusCanceled:  true,
	},
	domain.StatusPreparing: {
		domain.StatusReady:    true,
		domain.StatusCanceled: true,
	},
	domain.StatusReady: {
		domain.StatusServed:         true,
		domain.StatusOutForDelivery: true,
		domain.StatusCanceled:       true,
	},
	domain.StatusServed: {
		domain.StatusCompleted: true,
		domain.StatusCanceled:  true,
	},
	domain.StatusOutForDelivery: {
		domain.StatusDelivered: true,
		domain.StatusCanceled:  true,
	},
	domain.StatusCompleted: {},
	domain.StatusDelivered: {},
	domain.StatusCanceled:  {},
}

// Effects are externally-observable intents emitted by a transition. The
// state machine never applies them itself; a collaborator does.
type Effects struct {
	// ReleaseTable carries the table to free when the order completed
	// while holding a table association.
	ReleaseTable *string
}

// CanTransition consults the transition table without touching the order.
func CanTransition(from, to domain.OrderStatus) bool {
	return transitions[from][to]
}

// Transition applies target to the order, appending an immutable audit
// entry. An edge missing from the table fails with InvalidTransition and
// leaves the order untouched.
func Transition(o *domain.Order, target domain.OrderStatus, actor string, now time.Time) (Effects, error) {
	if !transitions[o.Status][target] {
		return Effects{}, &domain.InvalidTransitionError{From: o.Status, To: target}
	}
	// A scheduled order holds at pending/confirmed until the promoter (or
	// an explicit manual trigger) sends it to the kitchen.
	if o.Scheduled && o.ScheduledStatus == domain.ScheduledPending &&
		target != domain.StatusConfirmed && target != domain.StatusCanceled {
		return Effects{}, &domain.InvalidTransitionError{
			From: o.Status, To: target,
			Reason: "scheduled order not yet promoted",
		}
	}

	o.Status = target
	o.AppendHistory(target, actor, now)

	var eff Effects
	if target == domain.StatusPreparing && o.PreparationStartedAt == nil {
		t := now
		o.PreparationStartedAt = &t
	}
	if target == domain.StatusCompleted && o.TableNumber != nil {
		eff.ReleaseTable = o.TableNumber
	}
	return eff, nil
}

// PromoteScheduled moves a due scheduled order into the active kitchen
// pipeline with a single scheduler-attributed audit entry. The pending
// predicate makes the promotion loop idempotent.
func PromoteScheduled(o *domain.Order, actor string, now time.Time) error {
	if !o.Scheduled || o.ScheduledStatus != domain.ScheduledPending {
		return &domain.InvalidTransitionError{
			From: o.Status, To: domain.StatusPreparing,
			Reason: "order is not a pending scheduled order",
		}
	}
	if o.Status != domain.StatusPending && o.Status != domain.StatusConfirmed {
		return &domain.InvalidTransitionError{
			From: o.Status, To: domain.StatusPreparing,
			Reason: "scheduled order progressed past confirmed",
		}
	}
	o.Status = domain.StatusPreparing
	o.ScheduledStatus = domain.ScheduledSent
	t := now
	o.PreparationStartedAt = &t
	o.AppendHistory(domain.StatusPreparing, actor, now)
	return nil
}

// DerivePaymentStatus runs after every payment or discount mutation, not
// only on explicit status-change calls.
func DerivePaymentStatus(finalCharge, totalPaid float64) domain.PaymentStatus {
	switch {
	case totalPaid > 0 && finalCharge-totalPaid <= PaidTolerance:
		return domain.PaymentPaid
	case totalPaid > 0 && totalPaid < finalCharge:
		return domain.PaymentPartiallyPaid
	default:
		return domain.PaymentPending
	}
}
