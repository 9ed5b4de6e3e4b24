package services

import (
	"context"
	"time"

	"market-booking/internal/notification"
	"market-booking/internal/repository"
	"market-booking/internal/timeslot"
	"market-booking/pkg/logger"

	"go.uber.org/zap"
)

// ReminderService texts requesters the day before a confirmed reservation.
// Each reservation is reminded at most once.
type ReminderService struct {
	reservations repository.ReservationRepository
	directory    repository.MerchantDirectory
	notifier     notification.Dispatcher
	hour         int
	logger       *logger.Logger
	now          func() time.Time
}

func NewReminderService(
	reservations repository.ReservationRepository,
	directory repository.MerchantDirectory,
	notifier notification.Dispatcher,
	hour int,
	l *logger.Logger,
) *ReminderService {
	return &ReminderService{
		reservations: reservations,
		directory:    directory,
		notifier:     notifier,
		hour:         hour,
		logger:       l,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Serve runs RunOnce every day at the configured hour until ctx is cancelled.
func (s *ReminderService) Serve(ctx context.Context) error {
	for {
		now := s.now()
		wait := nextRun(now, s.hour).Sub(now)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sent, err := s.RunOnce(ctx, s.now())
		if err != nil {
			s.logger.Logger.Error("reminder run failed", zap.Error(err))
			continue
		}
		s.logger.Logger.Info("reminder run finished", zap.Int("sent", sent))
	}
}

// RunOnce reminds every confirmed reservation dated the day after now.
func (s *ReminderService) RunOnce(ctx context.Context, now time.Time) (int, error) {
	tomorrow := timeslot.FormatDate(now.AddDate(0, 0, 1))
	due, err := s.reservations.ListDueReminders(ctx, tomorrow)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, res := range due {
		m, err := s.directory.GetMerchant(ctx, res.MerchantID)
		if err != nil {
			s.logger.Logger.Warn("skipping reminder: merchant lookup failed",
				zap.String("reservation_id", res.ID.String()), zap.Error(err))
			continue
		}

		n := notification.Notification{
			To:          res.RequesterPhone,
			TemplateKey: notification.TemplateReservationReminder,
			Variables:   notificationVars(res, m, ""),
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Logger.Warn("failed to queue reminder",
				zap.String("reservation_id", res.ID.String()), zap.Error(err))
			continue
		}
		if err := s.reservations.MarkReminderSent(ctx, res.ID, now); err != nil {
			s.logger.Logger.Error("failed to mark reminder sent",
				zap.String("reservation_id", res.ID.String()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *ReminderService) String() string {
	return "reminder-scheduler"
}

// nextRun returns the next occurrence of hour:00 strictly after now.
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
