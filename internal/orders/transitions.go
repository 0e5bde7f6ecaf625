package orders

import "github.com/ucstore/ucstore-backend/pkg/enums"

// Event is a lifecycle event requested against an order.
type Event string

const (
	EventPaymentInitiated  Event = "payment_initiated"
	EventPaymentConfirmed  Event = "payment_confirmed"
	EventPaymentFailed     Event = "payment_failed"
	EventDeliverySucceeded Event = "delivery_succeeded"
	EventDeliveryFailed    Event = "delivery_failed"
	EventAdminCancel       Event = "admin_cancel"
	EventUserCancel        Event = "user_cancel"
)

// String implements fmt.Stringer.
func (e Event) String() string {
	return string(e)
}

// IsValid reports whether the value is a known Event.
func (e Event) IsValid() bool {
	_, ok := transitions[e]
	return ok
}

type transition struct {
	sources []enums.OrderStatus
	target  enums.OrderStatus
}

// transitions is the lifecycle graph. delivery_failed keeps the order in paid
// until the retry bound escalates it to failed.
var transitions = map[Event]transition{
	EventPaymentInitiated: {
		sources: []enums.OrderStatus{enums.OrderStatusCreated},
		target:  enums.OrderStatusProcessing,
	},
	EventPaymentConfirmed: {
		sources: []enums.OrderStatus{enums.OrderStatusProcessing},
		target:  enums.OrderStatusPaid,
	},
	EventPaymentFailed: {
		sources: []enums.OrderStatus{enums.OrderStatusProcessing},
		target:  enums.OrderStatusFailed,
	},
	EventDeliverySucceeded: {
		sources: []enums.OrderStatus{enums.OrderStatusPaid},
		target:  enums.OrderStatusDelivered,
	},
	EventDeliveryFailed: {
		sources: []enums.OrderStatus{enums.OrderStatusPaid},
		target:  enums.OrderStatusPaid,
	},
	EventAdminCancel: {
		// paid is a legal source: a risk block at the delivery gate must be
		// able to cancel before issuance.
		sources: []enums.OrderStatus{enums.OrderStatusCreated, enums.OrderStatusProcessing, enums.OrderStatusPaid},
		target:  enums.OrderStatusCancelled,
	},
	EventUserCancel: {
		sources: []enums.OrderStatus{enums.OrderStatusCreated},
		target:  enums.OrderStatusCancelled,
	},
}

// targetFor returns the target status for an event fired from a source
// status, or false when the source is not a valid origin for the event.
func targetFor(event Event, from enums.OrderStatus) (enums.OrderStatus, bool) {
	t, ok := transitions[event]
	if !ok {
		return "", false
	}
	for _, source := range t.sources {
		if source == from {
			return t.target, true
		}
	}
	return "", false
}

// auditActionFor maps a lifecycle event to its audit log action.
func auditActionFor(event Event) enums.AuditAction {
	switch event {
	case EventPaymentInitiated:
		return enums.AuditActionPaymentInitiated
	case EventPaymentConfirmed:
		return enums.AuditActionPaymentConfirmed
	case EventPaymentFailed:
		return enums.AuditActionPaymentFailed
	case EventDeliverySucceeded:
		return enums.AuditActionDeliverySucceeded
	case EventDeliveryFailed:
		return enums.AuditActionDeliveryFailed
	case EventAdminCancel:
		return enums.AuditActionAdminCancel
	case EventUserCancel:
		return enums.AuditActionUserCancel
	}
	return enums.AuditActionInvalidTransition
}
