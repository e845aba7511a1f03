// Package appointment holds the pure appointment status state machine.
// Callers own record mutation and persistence; this package only answers
// whether an edge is legal.
package appointment

import "github.com/bellmanlabs/bellman/internal/model"

// Status is the domain appointment status.
type Status string

const (
	StatusBooked      Status = "booked"
	StatusConfirmed   Status = "confirmed"
	StatusRescheduled Status = "rescheduled"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusCancelled   Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusNoShow:    true,
	StatusCancelled: true,
}

// validTransitions is the single canonical table. Rescheduled's only exit is
// back to booked; terminal statuses have no exits.
var validTransitions = map[Status]map[Status]bool{
	StatusBooked: {
		StatusConfirmed:   true,
		StatusRescheduled: true,
		StatusCancelled:   true,
		StatusNoShow:      true,
		StatusInProgress:  true,
	},
	StatusConfirmed: {
		StatusInProgress:  true,
		StatusCompleted:   true,
		StatusRescheduled: true,
		StatusCancelled:   true,
		StatusNoShow:      true,
	},
	StatusRescheduled: {
		StatusBooked: true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// AssertValidTransition returns an *InvalidTransitionError when from -> to
// is not permitted.
func AssertValidTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &model.InvalidTransitionError{Entity: "appointment", From: string(from), To: string(to)}
	}
	return nil
}

// Statuses lists every known status.
func Statuses() []Status {
	return []Status{
		StatusBooked, StatusConfirmed, StatusRescheduled, StatusInProgress,
		StatusCompleted, StatusNoShow, StatusCancelled,
	}
}
