package repository

import (
	"context"
	"strconv"
	"time"

	"market-booking/internal/domain/reservation"
	"market-booking/internal/timeslot"
	market_errors "market-booking/pkg/errors"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reservationColumns = `
    id, merchant_id, requester_id, requester_name, requester_phone,
    to_char(reservation_date, 'YYYY-MM-DD'), reservation_time, party_size, note,
    total_amount, status, cancel_reason, cancelled_by, reminder_sent,
    created_at, updated_at, confirmed_at, cancelled_at, completed_at`

type reservationRepository struct {
	db DBTX
}

func NewReservationRepository(db DBTX) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) RunExclusive(ctx context.Context, merchantID uuid.UUID, fn func(tx BookingTx) error) error {
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		// Held until commit or rollback.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, merchantID.String()); err != nil {
			return market_errors.Unavailable(err, "acquire merchant booking lock")
		}
		return fn(&bookingTx{db: tx})
	})
	if err != nil && !market_errors.IsDomain(err) && !errors.Is(err, market_errors.ErrStorageUnavailable) {
		return market_errors.Unavailable(err, "booking transaction")
	}
	return err
}

type bookingTx struct {
	db DBTX
}

func (t *bookingTx) ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error) {
	return activeStartTimes(ctx, t.db, merchantID, date)
}

func (t *bookingTx) Insert(ctx context.Context, res *reservation.Reservation) error {
	_, err := t.db.Exec(ctx, `
        INSERT INTO reservations (id, merchant_id, requester_id, requester_name, requester_phone,
            reservation_date, reservation_time, party_size, note, total_amount, status,
            reminder_sent, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10,$11,$12,$13,$14)
    `,
		res.ID, res.MerchantID, res.RequesterID, res.RequesterName, res.RequesterPhone,
		res.Date, res.Time, res.PartySize, res.Note, res.TotalAmount, string(res.Status),
		res.ReminderSent, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return market_errors.Conflict("reservation %s already exists", res.ID)
		}
		return market_errors.Unavailable(err, "insert reservation")
	}

	for i, item := range res.Items {
		if _, err := t.db.Exec(ctx, `
            INSERT INTO reservation_line_items (reservation_id, position, menu_item_id, name, quantity, unit_price, subtotal)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
        `, res.ID, i, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice, item.Subtotal); err != nil {
			return market_errors.Unavailable(err, "insert reservation line item")
		}
	}
	return nil
}

func activeStartTimes(ctx context.Context, db DBTX, merchantID uuid.UUID, date string) ([]timeslot.Clock, error) {
	rows, err := db.Query(ctx, `
        SELECT reservation_time
        FROM reservations
        WHERE merchant_id = $1 AND reservation_date = $2::date AND status = ANY($3)
        ORDER BY reservation_time
    `, merchantID, date, statusStrings(reservation.ActiveStatuses()))
	if err != nil {
		return nil, market_errors.Unavailable(err, "list active reservations")
	}
	defer rows.Close()

	var out []timeslot.Clock
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, market_errors.Unavailable(err, "scan reservation time")
		}
		c, err := timeslot.ParseClock(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, market_errors.Unavailable(err, "list active reservations")
	}
	return out, nil
}

func (r *reservationRepository) ActiveStartTimes(ctx context.Context, merchantID uuid.UUID, date string) ([]timeslot.Clock, error) {
	return activeStartTimes(ctx, r.db, merchantID, date)
}

func (r *reservationRepository) GetByID(ctx context.Context, id uuid.UUID) (reservation.Reservation, error) {
	return getReservation(ctx, r.db, id)
}

func getReservation(ctx context.Context, db DBTX, id uuid.UUID) (reservation.Reservation, error) {
	row := db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.Reservation{}, market_errors.NotFound("reservation", id.String())
	}
	if err != nil {
		return reservation.Reservation{}, market_errors.Unavailable(err, "get reservation")
	}

	items, err := lineItems(ctx, db, id)
	if err != nil {
		return reservation.Reservation{}, err
	}
	res.Items = items
	return res, nil
}

func lineItems(ctx context.Context, db DBTX, id uuid.UUID) ([]reservation.LineItem, error) {
	rows, err := db.Query(ctx, `
        SELECT menu_item_id, name, quantity, unit_price, subtotal
        FROM reservation_line_items
        WHERE reservation_id = $1
        ORDER BY position
    `, id)
	if err != nil {
		return nil, market_errors.Unavailable(err, "list line items")
	}
	defer rows.Close()

	var items []reservation.LineItem
	for rows.Next() {
		var it reservation.LineItem
		if err := rows.Scan(&it.MenuItemID, &it.Name, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, market_errors.Unavailable(err, "scan line item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, market_errors.Unavailable(err, "list line items")
	}
	return items, nil
}

func (r *reservationRepository) List(ctx context.Context, filter reservation.Filter) ([]reservation.Reservation, error) {
	var where whereBuilder
	if filter.MerchantID.Valid {
		where.add("merchant_id = $%d", filter.MerchantID.UUID)
	}
	if filter.RequesterID.Valid {
		where.add("requester_id = $%d", filter.RequesterID.UUID)
	}
	if filter.Status != "" {
		where.add("status = $%d", string(filter.Status))
	}
	if filter.Date != "" {
		where.add("reservation_date = $%d::date", filter.Date)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args := append(where.args, limit, filter.Offset)

	query := `SELECT ` + reservationColumns + ` FROM reservations ` + where.String() + `
        ORDER BY reservation_date DESC, reservation_time DESC
        LIMIT $` + strconv.Itoa(len(where.args)+1) + ` OFFSET $` + strconv.Itoa(len(where.args)+2)

	return r.queryReservations(ctx, query, args...)
}

func (r *reservationRepository) queryReservations(ctx context.Context, query string, args ...any) ([]reservation.Reservation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, market_errors.Unavailable(err, "list reservations")
	}
	defer rows.Close()

	out := []reservation.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, market_errors.Unavailable(err, "scan reservation")
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, market_errors.Unavailable(err, "list reservations")
	}
	return out, nil
}

func (r *reservationRepository) Transition(ctx context.Context, id uuid.UUID, from reservation.Status, change reservation.Change) (reservation.Reservation, error) {
	var updated reservation.Reservation
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		current, err := getReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return market_errors.InvalidTransition(string(current.Status), string(change.To))
		}
		current.Apply(change)

		var cancelledBy *string
		if current.CancelledBy != nil {
			s := string(*current.CancelledBy)
			cancelledBy = &s
		}
		tag, err := tx.Exec(ctx, `
            UPDATE reservations
            SET status = $3, updated_at = $4, confirmed_at = $5, cancelled_at = $6,
                completed_at = $7, cancel_reason = $8, cancelled_by = $9
            WHERE id = $1 AND status = $2
        `, id, string(from), string(current.Status), current.UpdatedAt, current.ConfirmedAt,
			current.CancelledAt, current.CompletedAt, current.CancelReason, cancelledBy)
		if err != nil {
			return market_errors.Unavailable(err, "update reservation status")
		}
		if tag.RowsAffected() == 0 {
			return market_errors.InvalidTransition(string(from), string(change.To))
		}
		updated = current
		return nil
	})
	if err != nil && !market_errors.IsDomain(err) && !errors.Is(err, market_errors.ErrStorageUnavailable) {
		return reservation.Reservation{}, market_errors.Unavailable(err, "transition reservation")
	}
	return updated, err
}

func (r *reservationRepository) ListDueReminders(ctx context.Context, date string) ([]reservation.Reservation, error) {
	return r.queryReservations(ctx, `
        SELECT `+reservationColumns+`
        FROM reservations
        WHERE reservation_date = $1::date AND status = $2 AND reminder_sent = FALSE
        ORDER BY reservation_time
    `, date, string(reservation.StatusConfirmed))
}

func (r *reservationRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE reservations SET reminder_sent = TRUE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return market_errors.Unavailable(err, "mark reminder sent")
	}
	if tag.RowsAffected() == 0 {
		return market_errors.NotFound("reservation", id.String())
	}
	return nil
}

func scanReservation(row pgx.Row) (reservation.Reservation, error) {
	var (
		res         reservation.Reservation
		status      string
		cancelledBy *string
	)
	err := row.Scan(
		&res.ID, &res.MerchantID, &res.RequesterID, &res.RequesterName, &res.RequesterPhone,
		&res.Date, &res.Time, &res.PartySize, &res.Note,
		&res.TotalAmount, &status, &res.CancelReason, &cancelledBy, &res.ReminderSent,
		&res.CreatedAt, &res.UpdatedAt, &res.ConfirmedAt, &res.CancelledAt, &res.CompletedAt,
	)
	if err != nil {
		return reservation.Reservation{}, err
	}
	res.Status = reservation.Status(status)
	if cancelledBy != nil {
		p := reservation.Party(*cancelledBy)
		res.CancelledBy = &p
	}
	return res, nil
}

func statusStrings(statuses []reservation.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
