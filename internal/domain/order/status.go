package order

import (
	"fmt"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
	"github.com/xenking/kart-storefront/internal/domain/auth"
	"github.com/xenking/kart-storefront/internal/domain/payment"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPending         Status = "pending"
	StatusPaymentFailed   Status = "payment_failed"
	StatusAccepted        Status = "accepted"
	StatusCancelled       Status = "cancelled"
	// StatusCompleted has no inbound transition yet.
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusAwaitingPayment: {StatusPending, StatusPaymentFailed},
	StatusPending:         {StatusAccepted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusPending, StatusPaymentFailed,
		StatusAccepted, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InitialStatus is the status a new order starts in.
func InitialStatus(m payment.Method) Status {
	if m.Offline() {
		return StatusPending
	}
	return StatusAwaitingPayment
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned for an illegal status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// ErrorKind implements apperr.Kinded.
func (e *InvalidTransitionError) ErrorKind() apperr.Kind { return apperr.KindConflict }

// ErrForbidden is returned when the actor may not perform a change.
var ErrForbidden = apperr.New(apperr.KindForbidden, "not allowed to change this order")

// ErrInvalidStatus is returned for an unknown target status.
var ErrInvalidStatus = apperr.New(apperr.KindValidation, "unknown order status")

// Authorize checks that actor may move o to status to. Only actor-driven
// edges are allowed here: admins may accept or cancel, owners may cancel
// their own order. Payment-driven edges are never actor-driven.
func Authorize(actor auth.Actor, o *Order, to Status) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	switch {
	case actor.IsAdmin():
		if to != StatusAccepted && to != StatusCancelled {
			return ErrForbidden
		}
	case !actor.IsGuest() && actor.UserID == o.OwnerID:
		if to != StatusCancelled {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	return nil
}

// CanView reports whether actor may read o.
func CanView(actor auth.Actor, o *Order) bool {
	return actor.IsAdmin() || (!actor.IsGuest() && actor.UserID == o.OwnerID)
}
