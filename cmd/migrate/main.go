package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"market-booking/config"
	"market-booking/internal/domain/identity"
	"market-booking/internal/services"
	"market-booking/pkg/database"
	"market-booking/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const usage = `
Market Booking - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Apply pending migrations
  down        Roll back the most recent migration
  status      Show connection status and applied migrations
  seed        Insert a demo merchant and print a staff token for it

Flags:
  -migrations string   Path to migrations directory (default from MIGRATIONS_DIR)
  -merchant string     Demo merchant name for seeding (default "Demo Bistro")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed -merchant "Corner Cafe"
  go run cmd/migrate/main.go down
`

func main() {
	migrationsDir := flag.String("migrations", "", "Path to migrations directory")
	merchantName := flag.String("merchant", "Demo Bistro", "Demo merchant name for seeding")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *migrationsDir == "" {
		*migrationsDir = cfg.App.MigrationsDir
	}
	l := logger.New(cfg.App.Mode)
	defer l.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer database.Close()

	switch command {
	case "up":
		if err := database.ApplyMigrations(ctx, pool, *migrationsDir, l); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "down":
		if err := database.RollbackMigrations(ctx, pool, *migrationsDir, l); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rollback completed successfully")
	case "status":
		showStatus(ctx, pool)
	case "seed":
		runSeed(ctx, cfg, pool, *merchantName)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func showStatus(ctx context.Context, pool *pgxpool.Pool) {
	if err := database.HealthCheck(ctx); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connection: OK")

	applied, err := database.AppliedMigrations(ctx, pool)
	if err != nil {
		log.Fatalf("Reading migration history failed: %v", err)
	}
	if len(applied) == 0 {
		log.Println("No migrations applied")
		return
	}
	for _, name := range applied {
		log.Printf("applied  %s", name)
	}
}

func runSeed(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, name string) {
	seed := database.DefaultSeedConfig()
	seed.MerchantName = name

	result, err := database.Seed(ctx, pool, seed)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	auth := services.NewAuthService(cfg.Auth)
	token, err := auth.IssueToken(identity.Identity{
		UserID:     result.OwnerID,
		MerchantID: uuid.NullUUID{UUID: result.MerchantID, Valid: true},
		Role:       identity.RoleMerchant,
	})
	if err != nil {
		log.Fatalf("Issuing staff token failed: %v", err)
	}

	log.Printf("Merchant: %s (ID: %s)", name, result.MerchantID)
	for item, id := range result.MenuIDs {
		log.Printf("  menu item %-12s %s", item, id)
	}
	log.Printf("Staff token (valid %s): %s", cfg.Auth.TokenTTL, token)
}
