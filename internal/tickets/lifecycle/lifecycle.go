// Package lifecycle holds the ticket state machine and the manual payment
// verification state machine as transition tables. Every status write in
// the service goes through Next so the allowed edges live in one place.
package lifecycle

import (
	"fmt"

	"ms-admission/internal/models"
)

type Event string

const (
	PaymentConfirmed Event = "payment_confirmed"
	CheckedIn        Event = "checked_in"
	PaymentRejected  Event = "payment_rejected"
	PaymentRefunded  Event = "payment_refunded"
	AdminUndo        Event = "admin_undo"
	TimeExpired      Event = "time_expired"
)

// Transition is a single allowed edge.
type Transition struct {
	From  models.TicketStatus
	Event Event
	To    models.TicketStatus
}

var ticketTransitions = []Transition{
	{From: models.TicketPending, Event: PaymentConfirmed, To: models.TicketActive},

	{From: models.TicketActive, Event: CheckedIn, To: models.TicketUsed},

	{From: models.TicketPending, Event: PaymentRejected, To: models.TicketCancelled},
	{From: models.TicketActive, Event: PaymentRejected, To: models.TicketCancelled},

	{From: models.TicketPending, Event: PaymentRefunded, To: models.TicketCancelled},
	{From: models.TicketActive, Event: PaymentRefunded, To: models.TicketRefunded},

	// Privileged. Scanner endpoints never emit it.
	{From: models.TicketActive, Event: AdminUndo, To: models.TicketActive},
	{From: models.TicketUsed, Event: AdminUndo, To: models.TicketActive},

	{From: models.TicketPending, Event: TimeExpired, To: models.TicketExpired},
	{From: models.TicketActive, Event: TimeExpired, To: models.TicketExpired},
}

// InvalidTransitionError reports an edge that is not in the table.
type InvalidTransitionError struct {
	From  models.TicketStatus
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Event)
}

// Next returns the target state for from+ev.
func Next(from models.TicketStatus, ev Event) (models.TicketStatus, error) {
	for _, tr := range ticketTransitions {
		if tr.From == from && tr.Event == ev {
			return tr.To, nil
		}
	}
	return "", &InvalidTransitionError{From: from, Event: ev}
}

// Sources lists the states ev may fire from. Conditional updates use it
// as their status guard.
func Sources(ev Event) []models.TicketStatus {
	var out []models.TicketStatus
	for _, tr := range ticketTransitions {
		if tr.Event == ev {
			out = append(out, tr.From)
		}
	}
	return out
}

// Target returns the destination of ev from a given source, or false.
func Target(from models.TicketStatus, ev Event) (models.TicketStatus, bool) {
	to, err := Next(from, ev)
	return to, err == nil
}

// IsTerminal reports normal terminal states. EXPIRED is terminal for
// display only and is not included.
func IsTerminal(s models.TicketStatus) bool {
	switch s {
	case models.TicketUsed, models.TicketCancelled, models.TicketRefunded:
		return true
	}
	return false
}

// Admissible reports whether a ticket in s with the given check-in flag
// can be admitted now.
func Admissible(s models.TicketStatus, checkedIn bool) bool {
	return s == models.TicketActive && !checkedIn
}
