package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"market-booking/config"
	"market-booking/internal/events"
	"market-booking/internal/handler"
	"market-booking/internal/middleware"
	"market-booking/internal/notification"
	"market-booking/internal/redis"
	"market-booking/internal/repository"
	"market-booking/internal/server"
	"market-booking/internal/services"
	"market-booking/internal/stream"
	"market-booking/internal/supervisor"
	"market-booking/pkg/database"
	"market-booking/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l := logger.New(cfg.App.Mode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pool, err := database.Connect(startCtx, cfg)
	if err != nil {
		cancel()
		l.Logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()

	if err := database.ApplyMigrations(startCtx, pool, cfg.App.MigrationsDir, l); err != nil {
		cancel()
		l.Logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	rdb := redis.Initialize(cfg.Redis)
	defer rdb.Close()
	if err := redis.Ping(startCtx, rdb); err != nil {
		cancel()
		l.Logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	cancel()

	reservations := repository.NewReservationRepository(pool)
	directory := repository.NewCachedMerchantDirectory(
		repository.NewMerchantRepository(pool),
		redis.NewCacheStore(rdb, cfg.Booking.DirectoryTTL),
		l,
	)

	tree := supervisor.NewTree(l, supervisor.DefaultTreeConfig())

	streamLog := l.Named("stream")
	registry := stream.NewRegistry(streamLog)

	var (
		bus       events.Bus
		sequencer events.Sequencer
	)
	switch cfg.App.EventBus {
	case "local":
		bus = events.NewLocalBus()
		sequencer = events.NewAtomicSequencer()
	default:
		redisBus := events.NewRedisEventBus(rdb, events.NewTargetChannelResolver(), l.Named("bus"))
		tree.AddDeliveryService(redisBus)
		bus = redisBus
		sequencer = redis.NewSequence(rdb)
		// Every node sees every event; only recipients offline cluster-wide are queued.
		registry.TrackPresence(redis.NewPresenceStore(rdb, cfg.Stream.PresenceTTL))
	}

	pending := redis.NewPendingQueue(rdb, redis.PendingConfig{
		TTL:    cfg.Stream.PendingTTL,
		MaxLen: cfg.Stream.PendingMaxLen,
	})
	router := stream.NewRouter(registry, pending, streamLog)
	bus.Subscribe(router.Handle)
	tree.AddDeliveryService(stream.NewHeartbeat(registry, cfg.Stream.HeartbeatInterval, cfg.Stream.HeartbeatTimeout, streamLog))

	var gateway notification.Dispatcher = notification.NewLogDispatcher(l)
	if !cfg.Notification.TestMode {
		gateway = notification.NewSMSDispatcher(cfg.Notification, l)
	}
	notifier := notification.NewPool(gateway, cfg.Notification.Workers, cfg.Notification.QueueSize,
		cfg.Notification.RequestTimeout, l.Named("notification"))
	tree.AddDeliveryService(notifier)

	booking := services.NewBookingService(reservations, directory, bus, sequencer, notifier, cfg.Booking, l)
	tree.AddDeliveryService(services.NewReminderService(reservations, directory, notifier, cfg.Booking.ReminderHour, l))

	srv := server.New(cfg, l)
	if err := srv.SetupRoutes(&server.Handlers{
		Reservations: handler.NewReservationHandler(booking),
		Streams:      handler.NewStreamHandler(router, registry, cfg.Stream.SendBuffer, streamLog),
	}, server.Deps{
		Auth: services.NewAuthService(cfg.Auth),
		BookingLimiter: redis.NewRateLimiter(rdb, redis.RateLimitConfig{
			BookingLimit:  cfg.Booking.CreateLimit,
			BookingWindow: cfg.Booking.CreateWindow,
		}),
		ConnectLimiter: middleware.NewConnectLimiter(cfg.Stream.ConnectRate, cfg.Stream.ConnectBurst),
		HealthCheck: func(ctx context.Context) error {
			if err := database.HealthCheck(ctx); err != nil {
				return err
			}
			return redis.Ping(ctx, rdb)
		},
	}); err != nil {
		l.Logger.Fatal("failed to set up routes", zap.Error(err))
	}
	srv.OnShutdown(registry.CloseAll)
	tree.AddAPIService(srv)

	l.Logger.Info("market-booking starting",
		zap.String("port", cfg.App.Port),
		zap.String("mode", cfg.App.Mode),
		zap.String("event_bus", cfg.App.EventBus))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		l.Logger.Error("supervisor stopped", zap.Error(err))
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		l.Logger.Warn("services did not stop in time", zap.Int("count", len(report)))
	}
	l.Logger.Info("market-booking stopped")
}
