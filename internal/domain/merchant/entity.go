package merchant

import (
	"time"

	"market-booking/internal/timeslot"

	"github.com/google/uuid"
)

// Merchant represents merchants
type Merchant struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Phone   string    `json:"phone"`
	OwnerID uuid.UUID `json:"owner_id"`
}

// OperatingHours represents merchant_operating_hours
type OperatingHours struct {
	MerchantID uuid.UUID    `json:"merchant_id"`
	Weekday    time.Weekday `json:"weekday"`
	Open       string       `json:"open_time"`
	Close      string       `json:"close_time"`
	Closed     bool         `json:"is_closed"`
}

// Window converts stored HH:MM strings into a timeslot window.
func (h OperatingHours) Window() (timeslot.Window, error) {
	if h.Closed {
		return timeslot.Window{Closed: true}, nil
	}
	open, err := timeslot.ParseClock(h.Open)
	if err != nil {
		return timeslot.Window{}, err
	}
	closeAt, err := timeslot.ParseClock(h.Close)
	if err != nil {
		return timeslot.Window{}, err
	}
	return timeslot.Window{Open: open, Close: closeAt}, nil
}

// MenuItem represents menu_items
type MenuItem struct {
	ID         uuid.UUID `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Available  bool      `json:"is_available"`
}
