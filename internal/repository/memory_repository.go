package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"market-booking/internal/domain/merchant"
	"market-booking/internal/domain/reservation"
	"market-booking/internal/timeslot"
	market_errors "market-booking/pkg/errors"

	"github.com/google/uuid"
)

// MemoryReservationRepository keeps reservations in process memory. Creates
// for one merchant are serialized by a per-merchant mutex. Used by tests and
// single-node development runs.
type MemoryReservationRepository struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]reservation.Reservation

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{
		reservations: make(map[uuid.UUID]reservation.Reservation),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemoryReservationRepository) merchantLock(id uuid.UUID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryReservationRepository) RunExclusive(ctx context.Context, merchantID uuid.UUID, fn func(tx BookingTx) error) error {
	lock := m.merchantLock(merchantID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return market_errors.Unavailable(err, "acquire merchant booking lock")
	}

	tx := &memoryBookingTx{repo: m}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range tx.staged {
		m.reservations[r.ID] = r
	}
	return nil
}

type memoryBookingTx struct {
	repo   *MemoryReservationRepository
	staged []reservation.Reservation
}

func (t *memoryBookingTx) ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error) {
	out, err := t.repo.ActiveStartTimes(ctx, merchantID, date)
	if err != nil {
		return nil, err
	}
	for _, r := range t.staged {
		if r.MerchantID == merchantID && r.Date == date && r.Status.IsActive() {
			if c, err := timeslot.ParseClock(r.Time); err == nil {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (t *memoryBookingTx) Insert(ctx context.Context, r *reservation.Reservation) error {
	t.repo.mu.RLock()
	_, exists := t.repo.reservations[r.ID]
	t.repo.mu.RUnlock()
	if exists {
		return market_errors.Conflict("reservation %s already exists", r.ID)
	}
	t.staged = append(t.staged, cloneReservation(*r))
	return nil
}

func (m *MemoryReservationRepository) ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []timeslot.Clock
	for _, r := range m.reservations {
		if r.MerchantID != merchantID || r.Date != date || !r.Status.IsActive() {
			continue
		}
		c, err := timeslot.ParseClock(r.Time)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return reservation.Reservation{}, market_errors.NotFound("reservation", id.String())
	}
	return cloneReservation(r), nil
}

func (m *MemoryReservationRepository) List(ctx context.Context, filter reservation.Filter) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []reservation.Reservation{}
	for _, r := range m.reservations {
		if filter.MerchantID.Valid && r.MerchantID != filter.MerchantID.UUID {
			continue
		}
		if filter.RequesterID.Valid && (!r.RequesterID.Valid || r.RequesterID.UUID != filter.RequesterID.UUID) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Date != "" && r.Date != filter.Date {
			continue
		}
		out = append(out, cloneReservation(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if filter.Offset >= len(out) {
		return []reservation.Reservation{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryReservationRepository) Transition(ctx context.Context, id uuid.UUID, from reservation.Status, change reservation.Change) (reservation.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return reservation.Reservation{}, market_errors.NotFound("reservation", id.String())
	}
	if r.Status != from {
		return reservation.Reservation{}, market_errors.InvalidTransition(string(r.Status), string(change.To))
	}
	r.Apply(change)
	m.reservations[id] = r
	return cloneReservation(r), nil
}

func (m *MemoryReservationRepository) ListDueReminders(ctx context.Context, date string) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []reservation.Reservation
	for _, r := range m.reservations {
		if r.Date == date && r.Status == reservation.StatusConfirmed && !r.ReminderSent {
			out = append(out, cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryReservationRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return market_errors.NotFound("reservation", id.String())
	}
	r.ReminderSent = true
	r.UpdatedAt = at
	m.reservations[id] = r
	return nil
}

func cloneReservation(r reservation.Reservation) reservation.Reservation {
	if r.Items != nil {
		r.Items = append([]reservation.LineItem(nil), r.Items...)
	}
	return r
}

// MemoryMerchantDirectory is an in-memory MerchantDirectory.
type MemoryMerchantDirectory struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]merchant.Merchant
	hours     map[uuid.UUID]map[time.Weekday]merchant.OperatingHours
	menu      map[uuid.UUID]merchant.MenuItem
}

func NewMemoryMerchantDirectory() *MemoryMerchantDirectory {
	return &MemoryMerchantDirectory{
		merchants: make(map[uuid.UUID]merchant.Merchant),
		hours:     make(map[uuid.UUID]map[time.Weekday]merchant.OperatingHours),
		menu:      make(map[uuid.UUID]merchant.MenuItem),
	}
}

func (d *MemoryMerchantDirectory) AddMerchant(m merchant.Merchant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.merchants[m.ID] = m
}

// SetHours sets the same window for every listed weekday.
func (d *MemoryMerchantDirectory) SetHours(merchantID uuid.UUID, open, closeAt string, weekdays ...time.Weekday) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hours[merchantID] == nil {
		d.hours[merchantID] = make(map[time.Weekday]merchant.OperatingHours)
	}
	for _, wd := range weekdays {
		d.hours[merchantID][wd] = merchant.OperatingHours{MerchantID: merchantID, Weekday: wd, Open: open, Close: closeAt}
	}
}

func (d *MemoryMerchantDirectory) SetClosed(merchantID uuid.UUID, weekday time.Weekday) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hours[merchantID] == nil {
		d.hours[merchantID] = make(map[time.Weekday]merchant.OperatingHours)
	}
	d.hours[merchantID][weekday] = merchant.OperatingHours{MerchantID: merchantID, Weekday: weekday, Closed: true}
}

func (d *MemoryMerchantDirectory) AddMenuItem(item merchant.MenuItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.menu[item.ID] = item
}

func (d *MemoryMerchantDirectory) GetMerchant(ctx context.Context, id uuid.UUID) (merchant.Merchant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.merchants[id]
	if !ok {
		return merchant.Merchant{}, market_errors.NotFound("merchant", id.String())
	}
	return m, nil
}

func (d *MemoryMerchantDirectory) GetOperatingHours(ctx context.Context, merchantID uuid.UUID, weekday time.Weekday) (merchant.OperatingHours, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hours[merchantID][weekday]
	if !ok {
		return merchant.OperatingHours{MerchantID: merchantID, Weekday: weekday, Closed: true}, nil
	}
	return h, nil
}

func (d *MemoryMerchantDirectory) GetMenuItems(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]merchant.MenuItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uuid.UUID]merchant.MenuItem, len(ids))
	for _, id := range ids {
		if item, ok := d.menu[id]; ok && item.MerchantID == merchantID {
			out[id] = item
		}
	}
	return out, nil
}
