package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"market-booking/config"
	"market-booking/internal/domain/event"
	"market-booking/internal/domain/merchant"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/events"
	"market-booking/internal/notification"
	"market-booking/internal/notification/mocks"
	"market-booking/internal/repository"
	"market-booking/internal/timeslot"
	market_errors "market-booking/pkg/errors"
	"market-booking/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

const (
	monday = "2026-03-02"
	sunday = "2026-03-01"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) templatesTo(phone string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.To == phone {
			out = append(out, n.TemplateKey)
		}
	}
	return out
}

type BookingServiceTestSuite struct {
	suite.Suite
	ctx          context.Context
	reservations *repository.MemoryReservationRepository
	directory    *repository.MemoryMerchantDirectory
	bus          *events.LocalBus
	publishedMu  sync.Mutex
	published    []event.Event
	notifier     *recordingNotifier
	service      *BookingService
	merchant     merchant.Merchant
	coffee       merchant.MenuItem
	requesterID  uuid.UUID
}

func (s *BookingServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.reservations = repository.NewMemoryReservationRepository()
	s.directory = repository.NewMemoryMerchantDirectory()
	s.bus = events.NewLocalBus()
	s.published = nil
	s.bus.Subscribe(func(ctx context.Context, evt event.Event) {
		s.publishedMu.Lock()
		defer s.publishedMu.Unlock()
		s.published = append(s.published, evt)
	})
	s.notifier = &recordingNotifier{}

	s.merchant = merchant.Merchant{ID: uuid.New(), Name: "Bistro", Phone: "0211112222", OwnerID: uuid.New()}
	s.directory.AddMerchant(s.merchant)
	s.directory.SetHours(s.merchant.ID, "10:00", "20:00",
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
	s.directory.SetClosed(s.merchant.ID, time.Sunday)
	s.coffee = merchant.MenuItem{ID: uuid.New(), MerchantID: s.merchant.ID, Name: "Coffee", Price: 4500, Available: true}
	s.directory.AddMenuItem(s.coffee)

	s.requesterID = uuid.New()
	s.service = s.newService(s.directory, s.notifier)
}

func (s *BookingServiceTestSuite) newService(dir repository.MerchantDirectory, notifier notification.Dispatcher) *BookingService {
	return NewBookingService(s.reservations, dir, s.bus, events.NewAtomicSequencer(), notifier,
		config.NewTestConfig().Booking, logger.NewNop())
}

func (s *BookingServiceTestSuite) input(at string) CreateInput {
	return CreateInput{
		MerchantID:     s.merchant.ID,
		RequesterID:    uuid.NullUUID{UUID: s.requesterID, Valid: true},
		RequesterName:  "Kim",
		RequesterPhone: "010-1234-5678",
		Date:           monday,
		Time:           at,
		PartySize:      2,
	}
}

func TestBookingServiceSuite(t *testing.T) {
	suite.Run(t, new(BookingServiceTestSuite))
}

func (s *BookingServiceTestSuite) TestScenario_BufferConfirmAndCancel() {
	first, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)
	s.Equal(reservation.StatusPending, first.Status)

	_, err = s.service.Create(s.ctx, s.input("15:00"))
	s.True(errors.Is(err, market_errors.ErrSlotConflict), "got %v", err)

	second, err := s.service.Create(s.ctx, s.input("16:30"))
	s.Require().NoError(err)

	confirmed, err := s.service.Confirm(s.ctx, first.ID, reservation.PartyMerchant)
	s.Require().NoError(err)
	s.Equal(reservation.StatusConfirmed, confirmed.Status)
	s.NotNil(confirmed.ConfirmedAt)

	cancelled, err := s.service.Cancel(s.ctx, second.ID, reservation.PartyMerchant, "store closed")
	s.Require().NoError(err)
	s.Require().NotNil(cancelled.CancelReason)
	s.Equal("store closed", *cancelled.CancelReason)
	s.Equal(reservation.PartyMerchant, *cancelled.CancelledBy)

	s.Require().Len(s.published, 4)
	confirmedEvt := s.published[2]
	s.Equal(event.TypeConfirmed, confirmedEvt.Type)
	s.Equal(s.requesterID, confirmedEvt.Target.UserID.UUID)
	s.Equal(s.merchant.ID, confirmedEvt.Target.MerchantID.UUID)

	cancelledEvt := s.published[3]
	s.Equal(event.TypeCancelled, cancelledEvt.Type)
	s.Equal("store closed", cancelledEvt.Payload.Reason)
	s.Equal(reservation.PartyMerchant, cancelledEvt.Payload.Actor)
	s.True(cancelledEvt.Target.MerchantID.Valid)
	s.Less(s.published[2].ID, s.published[3].ID)

	s.Equal([]string{
		notification.TemplateReservationReceived,
		notification.TemplateReservationReceived,
		notification.TemplateReservationConfirmed,
		notification.TemplateReservationCancelled,
	}, s.notifier.templatesTo("010-1234-5678"))
	s.Equal([]string{
		notification.TemplateNewReservation,
		notification.TemplateNewReservation,
	}, s.notifier.templatesTo(s.merchant.Phone))
}

func (s *BookingServiceTestSuite) TestCreate_PricesLineItems() {
	in := s.input("12:00")
	in.Items = []reservation.ItemRequest{{MenuItemID: s.coffee.ID, Quantity: 3}}

	res, err := s.service.Create(s.ctx, in)
	s.Require().NoError(err)
	s.Require().Len(res.Items, 1)
	s.Equal("Coffee", res.Items[0].Name)
	s.Equal(int64(13500), res.Items[0].Subtotal)
	s.Equal(int64(13500), res.TotalAmount)
}

func (s *BookingServiceTestSuite) TestCreate_Rejections() {
	soldOut := merchant.MenuItem{ID: uuid.New(), MerchantID: s.merchant.ID, Name: "Cake", Price: 6000, Available: false}
	s.directory.AddMenuItem(soldOut)
	foreign := merchant.MenuItem{ID: uuid.New(), MerchantID: uuid.New(), Name: "Tea", Price: 3000, Available: true}
	s.directory.AddMenuItem(foreign)

	cases := []struct {
		name   string
		mutate func(in *CreateInput)
		kind   error
	}{
		{"missing merchant", func(in *CreateInput) { in.MerchantID = uuid.Nil }, market_errors.ErrValidation},
		{"unknown merchant", func(in *CreateInput) { in.MerchantID = uuid.New() }, market_errors.ErrNotFound},
		{"missing name", func(in *CreateInput) { in.RequesterName = " " }, market_errors.ErrValidation},
		{"missing phone", func(in *CreateInput) { in.RequesterPhone = "" }, market_errors.ErrValidation},
		{"bad date", func(in *CreateInput) { in.Date = "02/03/2026" }, market_errors.ErrValidation},
		{"bad time", func(in *CreateInput) { in.Time = "2pm" }, market_errors.ErrValidation},
		{"zero party", func(in *CreateInput) { in.PartySize = 0 }, market_errors.ErrValidation},
		{"zero quantity", func(in *CreateInput) {
			in.Items = []reservation.ItemRequest{{MenuItemID: s.coffee.ID, Quantity: 0}}
		}, market_errors.ErrValidation},
		{"unavailable item", func(in *CreateInput) {
			in.Items = []reservation.ItemRequest{{MenuItemID: soldOut.ID, Quantity: 1}}
		}, market_errors.ErrValidation},
		{"foreign item", func(in *CreateInput) {
			in.Items = []reservation.ItemRequest{{MenuItemID: foreign.ID, Quantity: 1}}
		}, market_errors.ErrValidation},
		{"closed weekday", func(in *CreateInput) { in.Date = sunday }, market_errors.ErrMerchantClosed},
		{"before opening", func(in *CreateInput) { in.Time = "09:30" }, market_errors.ErrMerchantClosed},
		{"after closing", func(in *CreateInput) { in.Time = "20:30" }, market_errors.ErrMerchantClosed},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			in := s.input("12:00")
			tc.mutate(&in)
			_, err := s.service.Create(s.ctx, in)
			s.True(errors.Is(err, tc.kind), "want %v, got %v", tc.kind, err)
		})
	}
	s.Empty(s.published)
}

func (s *BookingServiceTestSuite) TestCreate_WindowBoundsAreInclusive() {
	_, err := s.service.Create(s.ctx, s.input("10:00"))
	s.NoError(err)
	_, err = s.service.Create(s.ctx, s.input("20:00"))
	s.NoError(err)
}

func (s *BookingServiceTestSuite) TestCreate_ExactlyBufferApartIsAllowed() {
	_, err := s.service.Create(s.ctx, s.input("12:00"))
	s.Require().NoError(err)
	_, err = s.service.Create(s.ctx, s.input("14:00"))
	s.NoError(err)
	_, err = s.service.Create(s.ctx, s.input("10:01"))
	s.True(errors.Is(err, market_errors.ErrSlotConflict))
}

func (s *BookingServiceTestSuite) TestCreate_CancelledReservationFreesSlot() {
	res, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)
	_, err = s.service.Cancel(s.ctx, res.ID, reservation.PartyRequester, "")
	s.Require().NoError(err)

	_, err = s.service.Create(s.ctx, s.input("15:00"))
	s.NoError(err)
}

func (s *BookingServiceTestSuite) TestCreate_ConcurrentOverlappingRequests() {
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Create(s.ctx, s.input("14:00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, market_errors.ErrSlotConflict):
			conflicts++
		}
	}
	s.Equal(1, ok)
	s.Equal(1, conflicts)
}

func (s *BookingServiceTestSuite) TestCreate_ConcurrentCreatesNeverOverlap() {
	grid := timeslot.Grid(timeslot.Window{Open: timeslot.MustClock("10:00"), Close: timeslot.MustClock("20:00")}, 15*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, at := range grid {
			wg.Add(1)
			go func(at string) {
				defer wg.Done()
				s.service.Create(s.ctx, s.input(at))
			}(at.String())
		}
	}
	wg.Wait()

	booked, err := s.reservations.ActiveStartTimes(s.ctx, s.merchant.ID, monday)
	s.Require().NoError(err)
	s.NotEmpty(booked)
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			s.False(timeslot.Overlaps(booked[i], booked[j], 2*time.Hour), "%s overlaps %s", booked[i], booked[j])
		}
	}
}

func (s *BookingServiceTestSuite) TestTransition_TerminalStatusesRejectEverything() {
	setups := map[reservation.Status]func(id uuid.UUID) error{
		reservation.StatusCancelled: func(id uuid.UUID) error {
			_, err := s.service.Cancel(s.ctx, id, reservation.PartyRequester, "")
			return err
		},
		reservation.StatusCompleted: func(id uuid.UUID) error {
			if _, err := s.service.Confirm(s.ctx, id, reservation.PartyMerchant); err != nil {
				return err
			}
			_, err := s.service.Complete(s.ctx, id, reservation.PartyMerchant)
			return err
		},
		reservation.StatusNoShow: func(id uuid.UUID) error {
			if _, err := s.service.Confirm(s.ctx, id, reservation.PartyMerchant); err != nil {
				return err
			}
			_, err := s.service.MarkNoShow(s.ctx, id, reservation.PartyMerchant)
			return err
		},
	}

	at := []string{"10:00", "13:00", "16:00"}
	i := 0
	for terminal, setup := range setups {
		res, err := s.service.Create(s.ctx, s.input(at[i]))
		i++
		s.Require().NoError(err)
		s.Require().NoError(setup(res.ID))

		for _, to := range []reservation.Status{
			reservation.StatusPending, reservation.StatusConfirmed, reservation.StatusCancelled,
			reservation.StatusCompleted, reservation.StatusNoShow,
		} {
			_, err := s.service.Transition(s.ctx, res.ID, to, reservation.PartyAdmin, "")
			s.True(errors.Is(err, market_errors.ErrInvalidTransition), "%s -> %s: %v", terminal, to, err)
		}
	}
}

func (s *BookingServiceTestSuite) TestTransition_IllegalEdgesAndUnknownID() {
	res, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)

	_, err = s.service.Complete(s.ctx, res.ID, reservation.PartyMerchant)
	s.True(errors.Is(err, market_errors.ErrInvalidTransition))
	_, err = s.service.MarkNoShow(s.ctx, res.ID, reservation.PartyMerchant)
	s.True(errors.Is(err, market_errors.ErrInvalidTransition))

	_, err = s.service.Confirm(s.ctx, uuid.New(), reservation.PartyMerchant)
	s.True(errors.Is(err, market_errors.ErrNotFound))
}

func (s *BookingServiceTestSuite) TestNoShow_PublishesWithoutNotification() {
	res, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)
	_, err = s.service.MarkNoShow(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)

	last := s.published[len(s.published)-1]
	s.Equal(event.TypeNoShow, last.Type)
	s.Equal("reservation.no_show", last.Name())
	s.NotContains(s.notifier.templatesTo("010-1234-5678"), "reservation_no_show")
	s.Len(s.notifier.templatesTo("010-1234-5678"), 2)
}

func (s *BookingServiceTestSuite) TestGuestBooking_TargetsMerchantOnly() {
	in := s.input("14:00")
	in.RequesterID = uuid.NullUUID{}
	res, err := s.service.Create(s.ctx, in)
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)
	_, err = s.service.Complete(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)

	s.Require().Len(s.published, 3)
	for i, typ := range []event.Type{event.TypeCreated, event.TypeConfirmed, event.TypeCompleted} {
		evt := s.published[i]
		s.Equal(typ, evt.Type)
		s.Equal(s.merchant.ID, evt.Target.MerchantID.UUID)
		s.False(evt.Target.UserID.Valid)
	}
	s.Contains(s.notifier.templatesTo("010-1234-5678"), notification.TemplateReservationConfirmed)
}

func (s *BookingServiceTestSuite) TestGuestNoShow_IsPublished() {
	in := s.input("14:00")
	in.RequesterID = uuid.NullUUID{}
	res, err := s.service.Create(s.ctx, in)
	s.Require().NoError(err)
	_, err = s.service.Confirm(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)
	_, err = s.service.MarkNoShow(s.ctx, res.ID, reservation.PartyMerchant)
	s.Require().NoError(err)

	s.Require().Len(s.published, 3)
	s.Equal(event.TypeNoShow, s.published[2].Type)
	s.True(s.published[2].Target.MerchantID.Valid)
}

func (s *BookingServiceTestSuite) TestAvailableSlots() {
	_, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)

	slots, err := s.service.AvailableSlots(s.ctx, s.merchant.ID, monday)
	s.Require().NoError(err)
	s.Equal([]string{
		"10:00", "10:30", "11:00", "11:30", "12:00",
		"16:00", "16:30", "17:00", "17:30", "18:00", "18:30", "19:00", "19:30",
	}, slots)

	closed, err := s.service.AvailableSlots(s.ctx, s.merchant.ID, sunday)
	s.Require().NoError(err)
	s.Empty(closed)

	_, err = s.service.AvailableSlots(s.ctx, s.merchant.ID, "tomorrow")
	s.True(errors.Is(err, market_errors.ErrValidation))
}

func (s *BookingServiceTestSuite) TestList_RequiresOwnerFilter() {
	_, err := s.service.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)

	_, err = s.service.List(s.ctx, reservation.Filter{})
	s.True(errors.Is(err, market_errors.ErrValidation))

	out, err := s.service.List(s.ctx, reservation.Filter{
		RequesterID: uuid.NullUUID{UUID: s.requesterID, Valid: true},
		Status:      reservation.StatusPending,
	})
	s.Require().NoError(err)
	s.Len(out, 1)
}

// flakyDirectory fails the first n operating-hours reads.
type flakyDirectory struct {
	repository.MerchantDirectory
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyDirectory) GetOperatingHours(ctx context.Context, merchantID uuid.UUID, weekday time.Weekday) (merchant.OperatingHours, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return merchant.OperatingHours{}, market_errors.Unavailable(fmt.Errorf("connection reset"), "get operating hours")
	}
	return f.MerchantDirectory.GetOperatingHours(ctx, merchantID, weekday)
}

func (s *BookingServiceTestSuite) TestReads_RetryTransientFailures() {
	flaky := &flakyDirectory{MerchantDirectory: s.directory, failures: 2}
	svc := s.newService(flaky, s.notifier)

	_, err := svc.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)
	s.Equal(3, flaky.calls)

	down := &flakyDirectory{MerchantDirectory: s.directory, failures: 10}
	svc = s.newService(down, s.notifier)
	_, err = svc.AvailableSlots(s.ctx, s.merchant.ID, monday)
	s.True(errors.Is(err, market_errors.ErrStorageUnavailable))
	s.Equal(3, down.calls)
}

func (s *BookingServiceTestSuite) TestCancel_NotifiesCounterparty() {
	ctrl := gomock.NewController(s.T())
	notifier := mocks.NewMockDispatcher(ctrl)
	svc := s.newService(s.directory, notifier)

	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	res, err := svc.Create(s.ctx, s.input("14:00"))
	s.Require().NoError(err)

	notifier.EXPECT().Notify(gomock.Any(), gomock.Cond(func(n notification.Notification) bool {
		return n.To == s.merchant.Phone &&
			n.TemplateKey == notification.TemplateReservationCancelled &&
			n.Variables["reason"] == "plans changed"
	})).Return(nil).Times(1)
	_, err = svc.Cancel(s.ctx, res.ID, reservation.PartyRequester, "plans changed")
	s.Require().NoError(err)
}

func TestEffects_AdminCancelNotifiesBothParties(t *testing.T) {
	got := effects[reservation.StatusCancelled].recipients(reservation.PartyAdmin)
	require.Len(t, got, 2)
	assert.Equal(t, reservation.PartyMerchant, got[0].party)
	assert.Equal(t, reservation.PartyRequester, got[1].party)

	got = effects[reservation.StatusCancelled].recipients(reservation.PartyMerchant)
	require.Len(t, got, 1)
	assert.Equal(t, reservation.PartyRequester, got[0].party)
}

func TestEffects_CoverEveryStatus(t *testing.T) {
	for _, st := range []reservation.Status{
		reservation.StatusPending, reservation.StatusConfirmed, reservation.StatusCancelled,
		reservation.StatusCompleted, reservation.StatusNoShow,
	} {
		_, ok := effects[st]
		assert.True(t, ok, "no effect for %s", st)
	}
}
