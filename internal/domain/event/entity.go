package event

import (
	"fmt"
	"time"

	"market-booking/internal/domain/reservation"

	"github.com/google/uuid"
)

type Type string

const (
	TypeCreated   Type = "created"
	TypeConfirmed Type = "confirmed"
	TypeCancelled Type = "cancelled"
	TypeCompleted Type = "completed"
	TypeNoShow    Type = "no_show"
)

// TypeForStatus maps the status a reservation entered to the event it emits.
func TypeForStatus(s reservation.Status) Type {
	switch s {
	case reservation.StatusConfirmed:
		return TypeConfirmed
	case reservation.StatusCancelled:
		return TypeCancelled
	case reservation.StatusCompleted:
		return TypeCompleted
	case reservation.StatusNoShow:
		return TypeNoShow
	default:
		return TypeCreated
	}
}

// Target selects recipients: everyone associated with a merchant and/or a
// specific requester.
type Target struct {
	MerchantID uuid.NullUUID `json:"merchant_id"`
	UserID     uuid.NullUUID `json:"user_id"`
}

func MerchantKey(id uuid.UUID) string { return fmt.Sprintf("merchant:%s", id) }
func UserKey(id uuid.UUID) string     { return fmt.Sprintf("user:%s", id) }

// Keys returns the pending-queue recipient keys for the target.
func (t Target) Keys() []string {
	var keys []string
	if t.MerchantID.Valid {
		keys = append(keys, MerchantKey(t.MerchantID.UUID))
	}
	if t.UserID.Valid {
		keys = append(keys, UserKey(t.UserID.UUID))
	}
	return keys
}

func (t Target) Empty() bool {
	return !t.MerchantID.Valid && !t.UserID.Valid
}

type Payload struct {
	Reservation reservation.Reservation `json:"reservation"`
	Actor       reservation.Party       `json:"actor,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
}

// Event is an immutable record of one reservation state change. ID is
// assigned from a monotonic sequence and orders replay.
type Event struct {
	ID         int64     `json:"id"`
	Type       Type      `json:"type"`
	Target     Target    `json:"target"`
	Payload    Payload   `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Name is the frame name clients see, e.g. reservation.confirmed.
func (e Event) Name() string {
	return "reservation." + string(e.Type)
}
