package entity

import "fmt"

type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "Unpaid"
	PaymentPaid        PaymentStatus = "Paid"
	PaymentHold        PaymentStatus = "Hold"
	PaymentPaidPending PaymentStatus = "PaidPending"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentHold, PaymentPaidPending:
		return true
	}
	return false
}

type ShippingStatus string

const (
	ShippingPending   ShippingStatus = "Pending"
	ShippingReady     ShippingStatus = "Ready"
	ShippingShipped   ShippingStatus = "Shipped"
	ShippingDelivered ShippingStatus = "Delivered"
	ShippingClaimed   ShippingStatus = "Claimed"
	ShippingCancelled ShippingStatus = "Cancelled"

	// shippingRushShip is accepted on input only; rush shipping is a flag on the order.
	shippingRushShip ShippingStatus = "RushShip"
)

// progression is the forward order of the fulfillment chain.
var progression = map[ShippingStatus]int{
	ShippingPending:   0,
	ShippingReady:     1,
	ShippingShipped:   2,
	ShippingDelivered: 3,
	ShippingClaimed:   4,
}

func (s ShippingStatus) Valid() bool {
	if s == ShippingCancelled {
		return true
	}
	_, ok := progression[s]
	return ok
}

// IsRushShip reports whether s is the legacy "RushShip" token, which only
// raises the rush flag.
func (s ShippingStatus) IsRushShip() bool {
	return s == shippingRushShip
}

// Terminal reports whether no further transition is possible.
func (s ShippingStatus) Terminal() bool {
	return s == ShippingCancelled || s == ShippingClaimed
}

// NormalizeShippingStatus maps an inbound status to its stored form. "RushShip"
// becomes Pending with the rush flag raised; an empty status defaults to Pending.
func NormalizeShippingStatus(s ShippingStatus) (status ShippingStatus, rush bool, err error) {
	switch s {
	case "":
		return ShippingPending, false, nil
	case shippingRushShip:
		return ShippingPending, true, nil
	}
	if !s.Valid() {
		return "", false, fmt.Errorf("unknown shipping status %q", s)
	}
	return s, false, nil
}

// CanTransition reports whether from -> to is allowed: staying put, moving forward
// along Pending -> Ready -> Shipped -> Delivered -> Claimed, or cancelling a
// non-terminal order.
func CanTransition(from, to ShippingStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == ShippingCancelled {
		return true
	}
	f, okFrom := progression[from]
	t, okTo := progression[to]
	return okFrom && okTo && t > f
}
