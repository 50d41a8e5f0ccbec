package domain

import "fmt"

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusServed         OrderStatus = "served"
	StatusCompleted      OrderStatus = "completed"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCanceled       OrderStatus = "canceled"
)

var orderStatuses = map[OrderStatus]struct{}{
	StatusPending: {}, StatusConfirmed: {}, StatusPreparing: {}, StatusReady: {},
	StatusServed: {}, StatusCompleted: {}, StatusOutForDelivery: {}, StatusDelivered: {},
	StatusCanceled: {},
}

// ParseOrderStatus rejects unknown status strings at the boundary.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := orderStatuses[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Terminal reports whether no further status transitions are permitted.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDelivered || s == StatusCanceled
}

// PaymentStatus is derived from balance due, never set directly.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

// ScheduledStatus tracks a scheduled order through the promotion loop.
type ScheduledStatus string

const (
	ScheduledPending ScheduledStatus = "pending"
	ScheduledSent    ScheduledStatus = "sent_to_kds"
	ScheduledFailed  ScheduledStatus = "failed"
)

// OrderType drives kitchen routing priority and delivery handling.
type OrderType string

const (
	TypeDineIn   OrderType = "dine_in"
	TypeTakeout  OrderType = "takeout"
	TypeDelivery OrderType = "delivery"
)

// ParseOrderType validates the order type at the request boundary.
func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(s); t {
	case TypeDineIn, TypeTakeout, TypeDelivery:
		return t, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}
