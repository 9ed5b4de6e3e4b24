package reservation

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// transitions lists every legal edge. Statuses without an entry are terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, true
	}
	return "", false
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether the reservation still holds its slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses that take part in conflict checks.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed}
}

// Change describes a requested status change.
type Change struct {
	To     Status
	By     Party
	Reason string
	At     time.Time
}

// Apply sets the status and the timestamp that belongs to it. The caller is
// expected to have checked CanTransition.
func (r *Reservation) Apply(c Change) {
	at := c.At
	r.Status = c.To
	r.UpdatedAt = at
	switch c.To {
	case StatusConfirmed:
		r.ConfirmedAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	case StatusCancelled:
		r.CancelledAt = &at
		by := c.By
		r.CancelledBy = &by
		if c.Reason != "" {
			reason := c.Reason
			r.CancelReason = &reason
		}
	}
}
