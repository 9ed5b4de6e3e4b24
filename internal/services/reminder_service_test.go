package services

import (
	"context"
	"testing"
	"time"

	"market-booking/config"
	"market-booking/internal/domain/merchant"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/events"
	"market-booking/internal/notification"
	"market-booking/internal/repository"
	"market-booking/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, nextRun(tc.now, 18))
	}
}

func TestReminderService_RemindsConfirmedOnce(t *testing.T) {
	ctx := context.Background()
	reservations := repository.NewMemoryReservationRepository()
	directory := repository.NewMemoryMerchantDirectory()
	shop := merchant.Merchant{ID: uuid.New(), Name: "Bistro", Phone: "0211112222"}
	directory.AddMerchant(shop)
	directory.SetHours(shop.ID, "10:00", "20:00", time.Monday)

	booking := NewBookingService(reservations, directory, events.NewLocalBus(), events.NewAtomicSequencer(),
		&recordingNotifier{}, config.NewTestConfig().Booking, logger.NewNop())

	create := func(at, phone string) reservation.Reservation {
		res, err := booking.Create(ctx, CreateInput{
			MerchantID: shop.ID, RequesterName: "Kim", RequesterPhone: phone,
			Date: monday, Time: at, PartySize: 2,
		})
		require.NoError(t, err)
		return res
	}
	confirmed := create("11:00", "01000000001")
	create("15:00", "01000000002")
	_, err := booking.Confirm(ctx, confirmed.ID, reservation.PartyMerchant)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	reminders := NewReminderService(reservations, directory, notifier, 18, logger.NewNop())
	sunday18 := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	sent, err := reminders.RunOnce(ctx, sunday18)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{notification.TemplateReservationReminder}, notifier.templatesTo("01000000001"))
	assert.Empty(t, notifier.templatesTo("01000000002"))

	sent, err = reminders.RunOnce(ctx, sunday18)
	require.NoError(t, err)
	assert.Zero(t, sent)

	got, err := reservations.GetByID(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)
}
