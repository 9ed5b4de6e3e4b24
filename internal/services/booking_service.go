package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"market-booking/config"
	"market-booking/internal/domain/event"
	"market-booking/internal/domain/merchant"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/events"
	"market-booking/internal/metrics"
	"market-booking/internal/notification"
	"market-booking/internal/repository"
	"market-booking/internal/timeslot"
	market_errors "market-booking/pkg/errors"
	"market-booking/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingService owns reservation state: it validates and creates bookings,
// moves them through the status machine and announces every change.
type BookingService struct {
	reservations repository.ReservationRepository
	directory    repository.MerchantDirectory
	bus          events.Bus
	sequencer    events.Sequencer
	notifier     notification.Dispatcher
	cfg          config.BookingConfig
	logger       *logger.Logger
	now          func() time.Time
}

func NewBookingService(
	reservations repository.ReservationRepository,
	directory repository.MerchantDirectory,
	bus events.Bus,
	sequencer events.Sequencer,
	notifier notification.Dispatcher,
	cfg config.BookingConfig,
	l *logger.Logger,
) *BookingService {
	return &BookingService{
		reservations: reservations,
		directory:    directory,
		bus:          bus,
		sequencer:    sequencer,
		notifier:     notifier,
		cfg:          cfg,
		logger:       l,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	MerchantID     uuid.UUID
	RequesterID    uuid.NullUUID
	RequesterName  string
	RequesterPhone string
	Date           string
	Time           string
	PartySize      int
	Items          []reservation.ItemRequest
	Note           string
}

func (s *BookingService) Create(ctx context.Context, in CreateInput) (reservation.Reservation, error) {
	res, err := s.create(ctx, in)
	if err != nil {
		metrics.RecordBooking(resultLabel(err))
		return reservation.Reservation{}, err
	}
	metrics.RecordBooking("created")

	s.logger.WithContext(ctx).Info("reservation created",
		zap.String("reservation_id", res.ID.String()),
		zap.String("merchant_id", res.MerchantID.String()),
		zap.String("date", res.Date),
		zap.String("time", res.Time))

	s.announce(ctx, res, reservation.PartyRequester, "")
	return res, nil
}

func (s *BookingService) create(ctx context.Context, in CreateInput) (reservation.Reservation, error) {
	start, err := validateCreate(in)
	if err != nil {
		return reservation.Reservation{}, err
	}
	day, _ := timeslot.ParseDate(in.Date)

	var hours merchant.OperatingHours
	err = s.read(ctx, func(ctx context.Context) error {
		if _, err := s.directory.GetMerchant(ctx, in.MerchantID); err != nil {
			return err
		}
		var err error
		hours, err = s.directory.GetOperatingHours(ctx, in.MerchantID, day.Weekday())
		return err
	})
	if err != nil {
		return reservation.Reservation{}, err
	}

	window, err := hours.Window()
	if err != nil {
		return reservation.Reservation{}, market_errors.Unavailable(err, "parse operating hours")
	}
	if window.Closed {
		return reservation.Reservation{}, market_errors.Closed("merchant is closed on %s", day.Weekday())
	}
	if !window.Covers(start) {
		return reservation.Reservation{}, market_errors.Closed("%s is outside operating hours %s-%s", start, window.Open, window.Close)
	}

	items, err := s.priceItems(ctx, in.MerchantID, in.Items)
	if err != nil {
		return reservation.Reservation{}, err
	}

	now := s.now()
	res := reservation.Reservation{
		ID:             uuid.New(),
		MerchantID:     in.MerchantID,
		RequesterID:    in.RequesterID,
		RequesterName:  strings.TrimSpace(in.RequesterName),
		RequesterPhone: strings.TrimSpace(in.RequesterPhone),
		Date:           in.Date,
		Time:           start.String(),
		PartySize:      in.PartySize,
		Items:          items,
		Note:           in.Note,
		TotalAmount:    reservation.Total(items),
		Status:         reservation.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = s.reservations.RunExclusive(ctx, in.MerchantID, func(tx repository.BookingTx) error {
		booked, err := tx.ActiveStartTimes(ctx, in.MerchantID, in.Date)
		if err != nil {
			return err
		}
		if other, hit := timeslot.FirstOverlap(start, booked, s.cfg.Buffer); hit {
			return market_errors.Conflict("%s on %s is within %s of the reservation at %s", start, in.Date, s.cfg.Buffer, other)
		}
		return tx.Insert(ctx, &res)
	})
	if err != nil {
		return reservation.Reservation{}, unavailableOnTimeout(err, "create reservation")
	}
	return res, nil
}

func validateCreate(in CreateInput) (timeslot.Clock, error) {
	if in.MerchantID == uuid.Nil {
		return 0, market_errors.Validation("merchant id is required")
	}
	if strings.TrimSpace(in.RequesterName) == "" {
		return 0, market_errors.Validation("requester name is required")
	}
	if strings.TrimSpace(in.RequesterPhone) == "" {
		return 0, market_errors.Validation("requester phone is required")
	}
	if _, err := timeslot.ParseDate(in.Date); err != nil {
		return 0, market_errors.Validation("%s", err.Error())
	}
	start, err := timeslot.ParseClock(in.Time)
	if err != nil {
		return 0, market_errors.Validation("%s", err.Error())
	}
	if start >= timeslot.MustClock("24:00") {
		return 0, market_errors.Validation("time %q out of range", in.Time)
	}
	if in.PartySize < 1 {
		return 0, market_errors.Validation("party size must be at least 1")
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return 0, market_errors.Validation("quantity for menu item %s must be at least 1", it.MenuItemID)
		}
	}
	return start, nil
}

// priceItems snapshots name and unit price from the merchant's menu.
func (s *BookingService) priceItems(ctx context.Context, merchantID uuid.UUID, reqs []reservation.ItemRequest) ([]reservation.LineItem, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(reqs))
	for i, r := range reqs {
		ids[i] = r.MenuItemID
	}

	var menu map[uuid.UUID]merchant.MenuItem
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		menu, err = s.directory.GetMenuItems(ctx, merchantID, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	items := make([]reservation.LineItem, 0, len(reqs))
	for _, r := range reqs {
		m, ok := menu[r.MenuItemID]
		if !ok || m.MerchantID != merchantID {
			return nil, market_errors.Validation("menu item %s does not belong to this merchant", r.MenuItemID)
		}
		if !m.Available {
			return nil, market_errors.Validation("menu item %q is not available", m.Name)
		}
		items = append(items, reservation.LineItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			Quantity:   r.Quantity,
			UnitPrice:  m.Price,
			Subtotal:   m.Price * int64(r.Quantity),
		})
	}
	return items, nil
}

// Transition moves reservation id to status to on behalf of actor. The HTTP
// layer has already checked that actor may act on the reservation.
func (s *BookingService) Transition(ctx context.Context, id uuid.UUID, to reservation.Status, actor reservation.Party, reason string) (reservation.Reservation, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if !reservation.CanTransition(current.Status, to) {
		metrics.RecordTransition(string(to), market_errors.ErrInvalidTransition)
		return reservation.Reservation{}, market_errors.InvalidTransition(string(current.Status), string(to))
	}

	change := reservation.Change{To: to, By: actor, Reason: strings.TrimSpace(reason), At: s.now()}
	wctx, cancel := s.withTimeout(ctx)
	updated, err := s.reservations.Transition(wctx, id, current.Status, change)
	cancel()
	metrics.RecordTransition(string(to), err)
	if err != nil {
		return reservation.Reservation{}, unavailableOnTimeout(err, "transition reservation")
	}

	s.logger.WithContext(ctx).Info("reservation status changed",
		zap.String("reservation_id", id.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.String("actor", string(actor)))

	s.announce(ctx, updated, actor, change.Reason)
	return updated, nil
}

func (s *BookingService) Confirm(ctx context.Context, id uuid.UUID, actor reservation.Party) (reservation.Reservation, error) {
	return s.Transition(ctx, id, reservation.StatusConfirmed, actor, "")
}

func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, actor reservation.Party, reason string) (reservation.Reservation, error) {
	return s.Transition(ctx, id, reservation.StatusCancelled, actor, reason)
}

func (s *BookingService) Complete(ctx context.Context, id uuid.UUID, actor reservation.Party) (reservation.Reservation, error) {
	return s.Transition(ctx, id, reservation.StatusCompleted, actor, "")
}

func (s *BookingService) MarkNoShow(ctx context.Context, id uuid.UUID, actor reservation.Party) (reservation.Reservation, error) {
	return s.Transition(ctx, id, reservation.StatusNoShow, actor, "")
}

// AvailableSlots lists the open start times for a merchant on date.
func (s *BookingService) AvailableSlots(ctx context.Context, merchantID uuid.UUID, date string) ([]string, error) {
	day, err := timeslot.ParseDate(date)
	if err != nil {
		return nil, market_errors.Validation("%s", err.Error())
	}

	var (
		hours  merchant.OperatingHours
		booked []timeslot.Clock
	)
	err = s.read(ctx, func(ctx context.Context) error {
		if _, err := s.directory.GetMerchant(ctx, merchantID); err != nil {
			return err
		}
		var err error
		if hours, err = s.directory.GetOperatingHours(ctx, merchantID, day.Weekday()); err != nil {
			return err
		}
		booked, err = s.reservations.ActiveStartTimes(ctx, merchantID, date)
		return err
	})
	if err != nil {
		return nil, err
	}

	window, err := hours.Window()
	if err != nil {
		return nil, market_errors.Unavailable(err, "parse operating hours")
	}
	return timeslot.Strings(timeslot.Available(window, s.cfg.SlotGranularity, booked, s.cfg.Buffer)), nil
}

func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (reservation.Reservation, error) {
	var res reservation.Reservation
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reservations.GetByID(ctx, id)
		return err
	})
	return res, err
}

func (s *BookingService) List(ctx context.Context, filter reservation.Filter) ([]reservation.Reservation, error) {
	if !filter.MerchantID.Valid && !filter.RequesterID.Valid {
		return nil, market_errors.Validation("merchant_id or user_id is required")
	}
	if filter.Date != "" {
		if _, err := timeslot.ParseDate(filter.Date); err != nil {
			return nil, market_errors.Validation("%s", err.Error())
		}
	}

	var out []reservation.Reservation
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.reservations.List(ctx, filter)
		return err
	})
	return out, err
}

// announce publishes the change and sends notifications. Failures are logged:
// the reservation is already committed.
func (s *BookingService) announce(ctx context.Context, res reservation.Reservation, actor reservation.Party, reason string) {
	eff, ok := effects[res.Status]
	if !ok {
		return
	}
	log := s.logger.WithContext(ctx).With(zap.String("reservation_id", res.ID.String()))

	if target := eff.target(res); !target.Empty() {
		id, err := s.sequencer.Next(ctx)
		if err != nil {
			log.Error("failed to allocate event id", zap.Error(err))
		} else {
			evt := event.Event{
				ID:         id,
				Type:       event.TypeForStatus(res.Status),
				Target:     target,
				Payload:    event.Payload{Reservation: res, Actor: actor, Reason: reason},
				OccurredAt: s.now(),
			}
			if err := s.bus.Publish(ctx, evt); err != nil {
				log.Error("failed to publish reservation event", zap.Int64("event_id", id), zap.Error(err))
			}
		}
	}

	addressees := eff.recipients(actor)
	if len(addressees) == 0 {
		return
	}
	m, err := s.directory.GetMerchant(ctx, res.MerchantID)
	if err != nil {
		log.Warn("skipping notifications: merchant lookup failed", zap.Error(err))
		return
	}
	vars := notificationVars(res, m, reason)
	for _, a := range addressees {
		to := res.RequesterPhone
		if a.party == reservation.PartyMerchant {
			to = m.Phone
		}
		if to == "" {
			continue
		}
		n := notification.Notification{To: to, TemplateKey: a.template, Variables: vars}
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Warn("failed to queue notification", zap.String("template", a.template), zap.Error(err))
		}
	}
}

func notificationVars(res reservation.Reservation, m merchant.Merchant, reason string) map[string]string {
	return map[string]string{
		"name":       res.RequesterName,
		"phone":      res.RequesterPhone,
		"date":       res.Date,
		"time":       res.Time,
		"people":     strconv.Itoa(res.PartySize),
		"notes":      res.Note,
		"store_name": m.Name,
		"reason":     reason,
	}
}

// read runs a read-only storage call under the storage timeout, retrying
// transient failures.
func (s *BookingService) read(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			metrics.StorageRetries.Inc()
		}
		rctx, cancel := s.withTimeout(ctx)
		err = unavailableOnTimeout(fn(rctx), "read")
		cancel()
		if err == nil || !errors.Is(err, market_errors.ErrStorageUnavailable) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *BookingService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StorageTimeout)
}

// unavailableOnTimeout classifies deadline and cancellation errors that
// escaped the repository as storage unavailability.
func unavailableOnTimeout(err error, op string) error {
	if err == nil || errors.Is(err, market_errors.ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return market_errors.Unavailable(err, op)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, market_errors.ErrValidation):
		return "invalid"
	case errors.Is(err, market_errors.ErrMerchantClosed):
		return "closed"
	case errors.Is(err, market_errors.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, market_errors.ErrNotFound):
		return "not_found"
	case errors.Is(err, market_errors.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
