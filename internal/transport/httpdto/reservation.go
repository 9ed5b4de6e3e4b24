package httpdto

type CreateReservationRequest struct {
	MerchantID     string            `json:"merchant_id" binding:"required,uuid"`
	RequesterName  string            `json:"requester_name" binding:"required,max=100"`
	RequesterPhone string            `json:"requester_phone" binding:"required,max=20"`
	Date           string            `json:"reservation_date" binding:"required,date"`
	Time           string            `json:"reservation_time" binding:"required,hhmm"`
	PartySize      int               `json:"party_size" binding:"required,min=1,max=100"`
	Items          []LineItemRequest `json:"items" binding:"omitempty,dive"`
	Note           string            `json:"note" binding:"max=500"`
}

type LineItemRequest struct {
	MenuItemID string `json:"menu_item_id" binding:"required,uuid"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
}

type CancelReservationRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ListReservationsQuery struct {
	MerchantID string `form:"merchant_id" binding:"omitempty,uuid"`
	UserID     string `form:"user_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=pending confirmed cancelled completed no_show"`
	Date       string `form:"date" binding:"omitempty,date"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

type AvailableSlotsQuery struct {
	Date string `form:"date" binding:"required,date"`
}

type AvailableSlotsResponse struct {
	MerchantID string   `json:"merchant_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

type StreamStatusResponse struct {
	Total  int            `json:"total"`
	ByRole map[string]int `json:"by_role"`
}
