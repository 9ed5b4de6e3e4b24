package services

import (
	"market-booking/internal/domain/event"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/notification"

	"github.com/google/uuid"
)

type recipient int

const (
	toMerchant recipient = iota
	toRequester
	// toCounterparty is the side that did not act; an admin action reaches both.
	toCounterparty
)

type notice struct {
	to       recipient
	template string
}

// effect describes what happens when a reservation enters a status: which
// live audiences see the event and which notifications go out. Every status
// reaches the merchant so staff devices and admins follow the whole lifecycle.
type effect struct {
	merchant  bool
	requester bool
	notices   []notice
}

// effects is keyed by the status entered. Creation enters pending.
var effects = map[reservation.Status]effect{
	reservation.StatusPending: {
		merchant:  true,
		requester: true,
		notices: []notice{
			{to: toMerchant, template: notification.TemplateNewReservation},
			{to: toRequester, template: notification.TemplateReservationReceived},
		},
	},
	reservation.StatusConfirmed: {
		merchant:  true,
		requester: true,
		notices:   []notice{{to: toRequester, template: notification.TemplateReservationConfirmed}},
	},
	reservation.StatusCancelled: {
		merchant:  true,
		requester: true,
		notices:   []notice{{to: toCounterparty, template: notification.TemplateReservationCancelled}},
	},
	reservation.StatusCompleted: {
		merchant:  true,
		requester: true,
		notices:   []notice{{to: toRequester, template: notification.TemplateReservationCompleted}},
	},
	reservation.StatusNoShow: {
		merchant:  true,
		requester: true,
	},
}

// target resolves the live audience for r entering its current status. Guest
// reservations have no user target.
func (e effect) target(r reservation.Reservation) event.Target {
	var t event.Target
	if e.merchant {
		t.MerchantID = uuid.NullUUID{UUID: r.MerchantID, Valid: true}
	}
	if e.requester && r.RequesterID.Valid {
		t.UserID = r.RequesterID
	}
	return t
}

type addressee struct {
	party    reservation.Party
	template string
}

// recipients expands the notices into concrete parties given who acted.
func (e effect) recipients(actor reservation.Party) []addressee {
	var out []addressee
	for _, n := range e.notices {
		switch n.to {
		case toMerchant:
			out = append(out, addressee{reservation.PartyMerchant, n.template})
		case toRequester:
			out = append(out, addressee{reservation.PartyRequester, n.template})
		case toCounterparty:
			if actor != reservation.PartyMerchant {
				out = append(out, addressee{reservation.PartyMerchant, n.template})
			}
			if actor != reservation.PartyRequester {
				out = append(out, addressee{reservation.PartyRequester, n.template})
			}
		}
	}
	return out
}
