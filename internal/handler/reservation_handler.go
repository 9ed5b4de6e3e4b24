package handler

import (
	"net/http"

	"market-booking/internal/domain/identity"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/middleware"
	"market-booking/internal/services"
	"market-booking/internal/transport/httpdto"
	market_errors "market-booking/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ReservationHandler struct {
	service *services.BookingService
}

func NewReservationHandler(service *services.BookingService) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// Create books a reservation. Guests may book; an authenticated caller is
// recorded as the requester.
func (h *ReservationHandler) Create(c *gin.Context) {
	var req httpdto.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		badRequest(c, "invalid merchant_id")
		return
	}
	items := make([]reservation.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		id, err := uuid.Parse(it.MenuItemID)
		if err != nil {
			badRequest(c, "invalid menu_item_id")
			return
		}
		items = append(items, reservation.ItemRequest{MenuItemID: id, Quantity: it.Quantity})
	}

	in := services.CreateInput{
		MerchantID:     merchantID,
		RequesterName:  req.RequesterName,
		RequesterPhone: req.RequesterPhone,
		Date:           req.Date,
		Time:           req.Time,
		PartySize:      req.PartySize,
		Items:          items,
		Note:           req.Note,
	}
	if id, ok := middleware.IdentityFrom(c); ok {
		in.RequesterID = uuid.NullUUID{UUID: id.UserID, Valid: true}
	}

	res, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(res))
}

func (h *ReservationHandler) Get(c *gin.Context) {
	res, _, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(res))
}

// List returns reservations for one merchant or one requester. Without
// filters it lists the caller's own: the shop for staff, their bookings
// otherwise.
func (h *ReservationHandler) List(c *gin.Context) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, market_errors.ErrUnauthorized)
		return
	}

	var q httpdto.ListReservationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}

	filter := reservation.Filter{
		Status: reservation.Status(q.Status),
		Date:   q.Date,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if q.MerchantID != "" {
		filter.MerchantID = uuid.NullUUID{UUID: uuid.MustParse(q.MerchantID), Valid: true}
	}
	if q.UserID != "" {
		filter.RequesterID = uuid.NullUUID{UUID: uuid.MustParse(q.UserID), Valid: true}
	}
	if !filter.MerchantID.Valid && !filter.RequesterID.Valid {
		if caller.Role == identity.RoleMerchant && caller.MerchantID.Valid {
			filter.MerchantID = caller.MerchantID
		} else {
			filter.RequesterID = uuid.NullUUID{UUID: caller.UserID, Valid: true}
		}
	}

	if !canList(caller, filter) {
		writeError(c, market_errors.ErrForbidden)
		return
	}

	items, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewListResponse(items, q.Limit, q.Offset))
}

func canList(caller identity.Identity, f reservation.Filter) bool {
	if caller.IsAdmin() {
		return true
	}
	if f.MerchantID.Valid && !caller.ActsFor(f.MerchantID.UUID) {
		return false
	}
	if f.RequesterID.Valid && f.RequesterID.UUID != caller.UserID && !f.MerchantID.Valid {
		return false
	}
	return true
}

func (h *ReservationHandler) Confirm(c *gin.Context) {
	h.transition(c, reservation.StatusConfirmed, "")
}

func (h *ReservationHandler) Cancel(c *gin.Context) {
	var req httpdto.CancelReservationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	h.transition(c, reservation.StatusCancelled, req.Reason)
}

func (h *ReservationHandler) Complete(c *gin.Context) {
	h.transition(c, reservation.StatusCompleted, "")
}

func (h *ReservationHandler) NoShow(c *gin.Context) {
	h.transition(c, reservation.StatusNoShow, "")
}

func (h *ReservationHandler) transition(c *gin.Context, to reservation.Status, reason string) {
	res, party, ok := h.load(c)
	if !ok {
		return
	}
	// only the shop (or an admin) moves a booking forward; either side may cancel
	if to != reservation.StatusCancelled && party == reservation.PartyRequester {
		writeError(c, market_errors.ErrForbidden)
		return
	}

	updated, err := h.service.Transition(c.Request.Context(), res.ID, to, party, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(updated))
}

// load fetches the :id reservation and resolves the caller's party to it.
// It writes the response and returns false when the caller is not involved.
func (h *ReservationHandler) load(c *gin.Context) (reservation.Reservation, reservation.Party, bool) {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		writeError(c, market_errors.ErrUnauthorized)
		return reservation.Reservation{}, "", false
	}
	id, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid reservation id")
		return reservation.Reservation{}, "", false
	}

	res, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return reservation.Reservation{}, "", false
	}
	party, ok := partyOf(caller, res)
	if !ok {
		// hide existence from strangers
		writeError(c, market_errors.NotFound("reservation", id.String()))
		return reservation.Reservation{}, "", false
	}
	return res, party, true
}

func partyOf(caller identity.Identity, res reservation.Reservation) (reservation.Party, bool) {
	switch {
	case caller.IsAdmin():
		return reservation.PartyAdmin, true
	case caller.ActsFor(res.MerchantID):
		return reservation.PartyMerchant, true
	case res.RequesterID.Valid && res.RequesterID.UUID == caller.UserID:
		return reservation.PartyRequester, true
	}
	return "", false
}

// AvailableSlots is public: anyone may see a shop's free start times.
func (h *ReservationHandler) AvailableSlots(c *gin.Context) {
	merchantID, err := parseUUID(c.Param("merchantId"))
	if err != nil {
		badRequest(c, "invalid merchant id")
		return
	}
	var q httpdto.AvailableSlotsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "date is required as YYYY-MM-DD")
		return
	}

	slots, err := h.service.AvailableSlots(c.Request.Context(), merchantID, q.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AvailableSlotsResponse{
		MerchantID: merchantID.String(),
		Date:       q.Date,
		Slots:      slots,
	}))
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
