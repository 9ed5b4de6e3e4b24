package market_errors

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Booking errors. Wrapped errors keep their kind via errors.Mark, so callers
// match with errors.Is regardless of the message attached.
var (
	ErrValidation         = errors.New("invalid input")
	ErrMerchantClosed     = errors.New("merchant is not open at the requested time")
	ErrSlotConflict       = errors.New("time slot already booked")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
)

// Validation returns an ErrValidation-marked error with a user-facing message.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Closed returns an ErrMerchantClosed-marked error with detail.
func Closed(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrMerchantClosed)
}

// Conflict returns an ErrSlotConflict-marked error with detail.
func Conflict(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrSlotConflict)
}

// InvalidTransition reports an illegal status change.
func InvalidTransition(from, to string) error {
	return errors.Mark(errors.Newf("cannot move reservation from %s to %s", from, to), ErrInvalidTransition)
}

// NotFound reports a missing entity of the given kind.
func NotFound(kind, id string) error {
	return errors.Mark(errors.Newf("%s %s not found", kind, id), ErrNotFound)
}

// Unavailable wraps a transient backend failure.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrStorageUnavailable)
}

// IsDomain reports whether err is one of the user-facing booking errors.
func IsDomain(err error) bool {
	return errors.IsAny(err, ErrValidation, ErrMerchantClosed, ErrSlotConflict, ErrInvalidTransition, ErrNotFound)
}

// NowPtr returns a pointer to the current UTC time
func NowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
