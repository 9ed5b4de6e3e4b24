package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"market-booking/config"
	"market-booking/internal/handler"
	"market-booking/internal/middleware"
	"market-booking/internal/redis"
	"market-booking/internal/services"
	"market-booking/internal/transport/httpdto"
	"market-booking/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	httpServer      *http.Server
	engine          *gin.Engine
	config          *config.Config
	logger          *logger.Logger
	shutdownTimeout time.Duration
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Reservations *handler.ReservationHandler
	Streams      *handler.StreamHandler
}

// Deps are the collaborators the routes need besides the handlers.
type Deps struct {
	Auth           *services.AuthService
	BookingLimiter *redis.RateLimiter
	ConnectLimiter *middleware.ConnectLimiter
	// HealthCheck reports whether the backing stores are reachable.
	HealthCheck func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	switch cfg.App.Mode {
	case ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(l))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.App.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine:          engine,
		config:          cfg,
		logger:          l,
		shutdownTimeout: 10 * time.Second,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Deps) error {
	if err := httpdto.RegisterValidators(); err != nil {
		return err
	}

	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.NewCORSMiddleware(s.config.App))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.MetricsMiddleware())
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")

	reservations := v1.Group("/reservations")
	{
		create := []gin.HandlerFunc{middleware.OptionalAuth(deps.Auth)}
		if deps.BookingLimiter != nil {
			create = append(create, middleware.BookingRateLimitMiddleware(deps.BookingLimiter, s.logger))
		}
		reservations.POST("", append(create, handlers.Reservations.Create)...)

		authed := reservations.Group("", middleware.RequireAuth(deps.Auth))
		authed.GET("", handlers.Reservations.List)
		authed.GET("/:id", handlers.Reservations.Get)
		authed.POST("/:id/confirm", handlers.Reservations.Confirm)
		authed.POST("/:id/cancel", handlers.Reservations.Cancel)
		authed.POST("/:id/complete", handlers.Reservations.Complete)
		authed.POST("/:id/no-show", handlers.Reservations.NoShow)
	}

	v1.GET("/merchants/:merchantId/available-slots", handlers.Reservations.AvailableSlots)

	streams := []gin.HandlerFunc{middleware.RequireStreamAuth(deps.Auth)}
	if deps.ConnectLimiter != nil {
		streams = append(streams, deps.ConnectLimiter.Middleware())
	}
	v1.GET("/stream", append(streams, handlers.Streams.SSE)...)
	v1.GET("/ws", append(streams, handlers.Streams.WebSocket)...)
	v1.GET("/stream/status", middleware.RequireAuth(deps.Auth), handlers.Streams.Status)
	return nil
}

// OnShutdown registers f to run when shutdown begins. Long-lived streams use
// it to close so Shutdown does not wait on them.
func (s *Server) OnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Logger.Info("starting http server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Logger.Warn("graceful shutdown failed", zap.Error(err))
		return err
	}
	<-errCh
	s.logger.Logger.Info("http server stopped gracefully")
	return nil
}

func (s *Server) String() string {
	return "http-server"
}
