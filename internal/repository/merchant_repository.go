package repository

import (
	"context"
	"time"

	"market-booking/internal/domain/merchant"
	market_errors "market-booking/pkg/errors"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type merchantRepository struct {
	db DBTX
}

func NewMerchantRepository(db DBTX) MerchantDirectory {
	return &merchantRepository{db: db}
}

func (r *merchantRepository) GetMerchant(ctx context.Context, id uuid.UUID) (merchant.Merchant, error) {
	var m merchant.Merchant
	err := r.db.QueryRow(ctx, `SELECT id, name, phone, owner_id FROM merchants WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Phone, &m.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return merchant.Merchant{}, market_errors.NotFound("merchant", id.String())
	}
	if err != nil {
		return merchant.Merchant{}, market_errors.Unavailable(err, "get merchant")
	}
	return m, nil
}

func (r *merchantRepository) GetOperatingHours(ctx context.Context, merchantID uuid.UUID, weekday time.Weekday) (merchant.OperatingHours, error) {
	h := merchant.OperatingHours{MerchantID: merchantID, Weekday: weekday}
	err := r.db.QueryRow(ctx, `
        SELECT open_time, close_time, is_closed
        FROM merchant_operating_hours
        WHERE merchant_id = $1 AND weekday = $2
    `, merchantID, int(weekday)).Scan(&h.Open, &h.Close, &h.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		h.Closed = true
		return h, nil
	}
	if err != nil {
		return merchant.OperatingHours{}, market_errors.Unavailable(err, "get operating hours")
	}
	return h, nil
}

func (r *merchantRepository) GetMenuItems(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]merchant.MenuItem, error) {
	out := make(map[uuid.UUID]merchant.MenuItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
        SELECT id, merchant_id, name, price, is_available
        FROM menu_items
        WHERE merchant_id = $1 AND id = ANY($2::uuid[])
    `, merchantID, uuidStrings(ids))
	if err != nil {
		return nil, market_errors.Unavailable(err, "get menu items")
	}
	defer rows.Close()

	for rows.Next() {
		var item merchant.MenuItem
		if err := rows.Scan(&item.ID, &item.MerchantID, &item.Name, &item.Price, &item.Available); err != nil {
			return nil, market_errors.Unavailable(err, "scan menu item")
		}
		out[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, market_errors.Unavailable(err, "get menu items")
	}
	return out, nil
}
