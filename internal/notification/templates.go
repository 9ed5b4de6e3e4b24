package notification

import (
	"sort"
	"strings"

	market_errors "market-booking/pkg/errors"
)

const (
	TemplateNewReservation       = "new_reservation"
	TemplateReservationReceived  = "reservation_received"
	TemplateReservationConfirmed = "reservation_confirmed"
	TemplateReservationCancelled = "reservation_cancelled"
	TemplateReservationCompleted = "reservation_completed"
	TemplateReservationReminder  = "reservation_reminder"
)

// Template is an SMS body with #{name} placeholders.
type Template struct {
	Key   string
	Title string
	Body  string
}

var templates = map[string]Template{
	TemplateNewReservation: {
		Key:   TemplateNewReservation,
		Title: "New reservation",
		Body: `[New reservation]
Name: #{name}
Date: #{date}
Time: #{time}
Party: #{people}
Phone: #{phone}
Note: #{notes}

Please confirm the reservation.`,
	},
	TemplateReservationReceived: {
		Key:   TemplateReservationReceived,
		Title: "Reservation received",
		Body: `[Reservation received]
Your reservation at #{store_name} was received.

Date: #{date}
Time: #{time}
Party: #{people}

We will let you know once it is confirmed.`,
	},
	TemplateReservationConfirmed: {
		Key:   TemplateReservationConfirmed,
		Title: "Reservation confirmed",
		Body: `[Reservation confirmed]
Your reservation at #{store_name} is confirmed.

Date: #{date}
Time: #{time}
Party: #{people}`,
	},
	TemplateReservationCancelled: {
		Key:   TemplateReservationCancelled,
		Title: "Reservation cancelled",
		Body: `[Reservation cancelled]
The reservation at #{store_name} was cancelled.

Date: #{date}
Time: #{time}

Reason: #{reason}`,
	},
	TemplateReservationCompleted: {
		Key:   TemplateReservationCompleted,
		Title: "Thank you for visiting",
		Body: `[Visit completed]
Thank you for visiting #{store_name} on #{date}.`,
	},
	TemplateReservationReminder: {
		Key:   TemplateReservationReminder,
		Title: "Reservation reminder",
		Body: `[Reminder]
You have a reservation at #{store_name} tomorrow.

Time: #{time}
Party: #{people}`,
	},
}

func Lookup(key string) (Template, bool) {
	t, ok := templates[key]
	return t, ok
}

// Keys lists the registered template keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(templates))
	for k := range templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render substitutes vars into the template body. Placeholders without a
// value are left empty.
func Render(key string, vars map[string]string) (string, error) {
	t, ok := templates[key]
	if !ok {
		return "", market_errors.Validation("unknown notification template %q", key)
	}

	body := t.Body
	for name, value := range vars {
		body = strings.ReplaceAll(body, "#{"+name+"}", value)
	}
	for {
		start := strings.Index(body, "#{")
		if start < 0 {
			break
		}
		end := strings.Index(body[start:], "}")
		if end < 0 {
			break
		}
		body = body[:start] + body[start+end+1:]
	}
	return body, nil
}
