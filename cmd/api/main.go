package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/carebook/internal/adapters/cache"
	"github.com/zatekoja/carebook/internal/adapters/database"
	"github.com/zatekoja/carebook/internal/adapters/events"
	"github.com/zatekoja/carebook/internal/adapters/memory"
	"github.com/zatekoja/carebook/internal/api/handlers"
	"github.com/zatekoja/carebook/internal/api/middleware"
	"github.com/zatekoja/carebook/internal/api/routes"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/domain/repositories"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/redis"
	"github.com/zatekoja/carebook/internal/infrastructure/notifications"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/clock"
	"github.com/zatekoja/carebook/pkg/config"
)

const proposalSweepInterval = 15 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env, cfg.LogLevel)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := observability.Setup(ctx, &cfg.OTEL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to set up OpenTelemetry, continuing without export")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Error().Err(err).Msg("error shutting down OpenTelemetry")
			}
		}()
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	clk := clock.New()

	// Storage: PostgreSQL, or in-memory stores for local development
	var (
		slotRepo        repositories.SlotRepository
		appointmentRepo repositories.AppointmentRepository
		deliveryLog     repositories.NotificationLogRepository
	)
	pgClient, err := postgres.NewClient(&cfg.Database)
	switch {
	case err == nil:
		defer pgClient.Close()
		if cfg.Database.MigrateOnBoot {
			if err := migrateUp(pgClient); err != nil {
				log.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}
		slotRepo = database.NewSlotAdapter(pgClient)
		appointmentRepo = database.NewAppointmentAdapter(pgClient)
		deliveryLog = database.NewNotificationLogAdapter(sqlx.NewDb(pgClient.DB(), "postgres"))
	case cfg.Env == "development":
		log.Warn().Err(err).Msg("PostgreSQL unavailable, using in-memory stores")
		slotRepo = memory.NewSlotStore()
		appointmentRepo = memory.NewAppointmentStore()
	default:
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}

	// Redis backs the event bus and attempt counters; both degrade to
	// process-local versions without it
	var (
		eventBus     providers.EventBus
		counterStore providers.CounterStore
	)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-process event bus and counters")
		eventBus = memory.NewEventBus()
		counterStore = memory.NewCounterStore(clk)
	} else {
		defer redisClient.Close()
		eventBus = events.NewRedisEventBus(redisClient)
		counterStore = cache.NewRedisCounterStore(redisClient, "carebook:")
	}

	// Notification senders
	senders := []providers.NotificationSender{events.NewBookingEventPublisher(eventBus)}
	if cfg.WhatsApp.Enabled() {
		sender, err := notifications.NewWhatsAppCloudSender(cfg.WhatsApp)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize WhatsApp sender")
		}
		senders = append(senders, notifications.NewWhatsAppNotifier(sender))
		log.Info().Msg("WhatsApp notifications enabled")
	}
	dispatcher := services.NewNotificationDispatcher(cfg.Notification, clk, deliveryLog, metrics, senders...)
	dispatcher.Start()

	// Application services
	slotService := services.NewSlotService(slotRepo, appointmentRepo, clk, cfg.Booking)
	bookingService := services.NewBookingService(slotRepo, appointmentRepo, dispatcher, clk, metrics)
	rescheduleService := services.NewRescheduleService(slotRepo, appointmentRepo, dispatcher, clk, cfg.Booking, metrics)
	expiryService := services.NewProposalExpiryService(appointmentRepo, dispatcher, clk, metrics)

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = services.NewAttemptLimiter(counterStore, cfg.RateLimit, metrics)
	}

	if cfg.Booking.ProposalMaxAge > 0 {
		go sweepProposals(ctx, expiryService, cfg.Booking.ProposalMaxAge)
	}

	// Set up router
	router := routes.NewRouter(
		handlers.NewSlotHandler(slotService),
		handlers.NewAppointmentHandler(bookingService, rescheduleService),
		handlers.NewSSEHandler(eventBus),
		limiter,
		cfg.Server.AllowedOrigins,
		metrics,
	)
	if cfg.OTEL.PrometheusEnabled {
		router.WithPrometheus()
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams stay open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("notification queue not drained")
	}
	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event bus")
	}

	log.Info().Msg("server stopped")
}

func migrateUp(client *postgres.Client) error {
	migrator, err := client.NewMigrator()
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}

// sweepProposals auto-rejects stale reschedule proposals until ctx ends
func sweepProposals(ctx context.Context, svc *services.ProposalExpiryService, maxAge time.Duration) {
	ticker := time.NewTicker(proposalSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpireStale(ctx, maxAge)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("proposal sweep failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("expired stale reschedule proposals")
			}
		}
	}
}
