package reservation

import (
	"time"

	"github.com/google/uuid"
)

// Party identifies who acted on a reservation.
type Party string

const (
	PartyRequester Party = "requester"
	PartyMerchant  Party = "merchant"
	PartyAdmin     Party = "admin"
)

// Reservation represents reservations
type Reservation struct {
	ID             uuid.UUID     `json:"id"`
	MerchantID     uuid.UUID     `json:"merchant_id"`
	RequesterID    uuid.NullUUID `json:"requester_id"`
	RequesterName  string        `json:"requester_name"`
	RequesterPhone string        `json:"requester_phone"`
	Date           string        `json:"reservation_date"`
	Time           string        `json:"reservation_time"`
	PartySize      int           `json:"party_size"`
	Items          []LineItem    `json:"items,omitempty"`
	Note           string        `json:"note,omitempty"`
	TotalAmount    int64         `json:"total_amount"`
	Status         Status        `json:"status"`
	CancelReason   *string       `json:"cancel_reason,omitempty"`
	CancelledBy    *Party        `json:"cancelled_by,omitempty"`
	ReminderSent   bool          `json:"reminder_sent"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// LineItem represents reservation_line_items
type LineItem struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	UnitPrice  int64     `json:"unit_price"`
	Subtotal   int64     `json:"subtotal"`
}

// ItemRequest is a requested line item before pricing.
type ItemRequest struct {
	MenuItemID uuid.UUID
	Quantity   int
}

// Total sums the line item subtotals.
func Total(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Subtotal
	}
	return total
}

// Filter narrows reservation listings. Zero values are ignored.
type Filter struct {
	MerchantID  uuid.NullUUID
	RequesterID uuid.NullUUID
	Status      Status
	Date        string
	Limit       int
	Offset      int
}
