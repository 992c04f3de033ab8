package order

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPaymentPending   Status = "PAYMENT_PENDING"
	StatusPaid             Status = "PAID"
	StatusProcessing       Status = "PROCESSING"
	StatusReadyForDispatch Status = "READY_FOR_DISPATCH"
	StatusDispatched       Status = "DISPATCHED"
	StatusInTransit        Status = "IN_TRANSIT"
	StatusOutForDelivery   Status = "OUT_FOR_DELIVERY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusRefunded         Status = "REFUNDED"
	StatusFailed           Status = "FAILED"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

var ErrUnknownStatus = errors.New("unknown order status")

// transitions is the complete state machine. Anything not listed is rejected.
var transitions = map[Status][]Status{
	StatusPending:          {StatusPaymentPending, StatusPaid, StatusCancelled},
	StatusPaymentPending:   {StatusPaid, StatusCancelled},
	StatusPaid:             {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing:       {StatusReadyForDispatch, StatusCancelled, StatusRefunded},
	StatusReadyForDispatch: {StatusDispatched, StatusCancelled},
	StatusDispatched:       {StatusInTransit, StatusCancelled},
	StatusInTransit:        {StatusOutForDelivery, StatusFailed},
	StatusOutForDelivery:   {StatusDelivered, StatusFailed},
	StatusDelivered:        {StatusRefunded},
	StatusCancelled:        {StatusRefunded},
	StatusFailed:           {StatusRefunded, StatusOutForDelivery},
	StatusRefunded:         {},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the targets reachable from status.
func AllowedTransitions(from Status) []Status {
	return append([]Status(nil), transitions[from]...)
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusPaymentPending, StatusPaid, StatusProcessing,
		StatusReadyForDispatch, StatusDispatched, StatusInTransit,
		StatusOutForDelivery, StatusDelivered, StatusCancelled,
		StatusRefunded, StatusFailed,
	}
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// ParseStatus accepts any case and '-' or ' ' in place of '_'.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	s := Status(norm)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}
