package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedConfig holds configuration for seeding a demo merchant
type SeedConfig struct {
	MerchantName  string
	MerchantPhone string
	OwnerID       uuid.UUID
	Open          string
	Close         string
	ClosedDays    []int
	Menu          map[string]int64
}

// DefaultSeedConfig returns a merchant open 10:00-20:00, closed on Sundays.
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		MerchantName:  "Demo Bistro",
		MerchantPhone: "01000000000",
		OwnerID:       uuid.New(),
		Open:          "10:00",
		Close:         "20:00",
		ClosedDays:    []int{0},
		Menu: map[string]int64{
			"Set Lunch":   12000,
			"Tasting Set": 35000,
			"Coffee":      4500,
		},
	}
}

// SeedResult holds the ids created by Seed
type SeedResult struct {
	MerchantID uuid.UUID
	OwnerID    uuid.UUID
	MenuIDs    map[string]uuid.UUID
}

// Seed inserts one merchant with a week of operating hours and a menu in a
// single transaction.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{
		MerchantID: uuid.New(),
		OwnerID:    cfg.OwnerID,
		MenuIDs:    make(map[string]uuid.UUID),
	}

	closed := make(map[int]bool, len(cfg.ClosedDays))
	for _, d := range cfg.ClosedDays {
		closed[d] = true
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO merchants (id, name, phone, owner_id) VALUES ($1, $2, $3, $4)`,
			result.MerchantID, cfg.MerchantName, cfg.MerchantPhone, cfg.OwnerID,
		); err != nil {
			return fmt.Errorf("failed to seed merchant: %w", err)
		}

		for day := 0; day < 7; day++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO merchant_operating_hours (merchant_id, weekday, open_time, close_time, is_closed)
				 VALUES ($1, $2, $3, $4, $5)`,
				result.MerchantID, day, cfg.Open, cfg.Close, closed[day],
			); err != nil {
				return fmt.Errorf("failed to seed operating hours: %w", err)
			}
		}

		for name, price := range cfg.Menu {
			id := uuid.New()
			if _, err := tx.Exec(ctx,
				`INSERT INTO menu_items (id, merchant_id, name, price) VALUES ($1, $2, $3, $4)`,
				id, result.MerchantID, name, price,
			); err != nil {
				return fmt.Errorf("failed to seed menu item %s: %w", name, err)
			}
			result.MenuIDs[name] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
