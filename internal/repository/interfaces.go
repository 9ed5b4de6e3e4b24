package repository

import (
	"context"
	"time"

	"market-booking/internal/domain/merchant"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/timeslot"

	"github.com/google/uuid"
)

// ReservationRepository is the single writer of reservation state.
type ReservationRepository interface {
	// RunExclusive runs fn while holding the merchant's booking lock. Conflict
	// checks and inserts made through tx are serialized per merchant.
	RunExclusive(ctx context.Context, merchantID uuid.UUID, fn func(tx BookingTx) error) error

	GetByID(ctx context.Context, id uuid.UUID) (reservation.Reservation, error)
	List(ctx context.Context, filter reservation.Filter) ([]reservation.Reservation, error)
	ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error)

	// Transition moves a reservation from one status to another only if it is
	// still in from. A lost race surfaces as ErrInvalidTransition.
	Transition(ctx context.Context, id uuid.UUID, from reservation.Status, change reservation.Change) (reservation.Reservation, error)

	ListDueReminders(ctx context.Context, date string) ([]reservation.Reservation, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

// BookingTx is the view of the store available inside RunExclusive.
type BookingTx interface {
	ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error)
	Insert(ctx context.Context, r *reservation.Reservation) error
}

// MerchantDirectory is the read-only lookup for merchant data owned elsewhere.
type MerchantDirectory interface {
	GetMerchant(ctx context.Context, id uuid.UUID) (merchant.Merchant, error)
	// GetOperatingHours returns a closed window when no row exists for the weekday.
	GetOperatingHours(ctx context.Context, merchantID uuid.UUID, weekday time.Weekday) (merchant.OperatingHours, error)
	GetMenuItems(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]merchant.MenuItem, error)
}
