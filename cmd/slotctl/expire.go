package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zatekoja/carebook/internal/adapters/database"
	"github.com/zatekoja/carebook/internal/adapters/events"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/providers"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/redis"
	"github.com/zatekoja/carebook/pkg/clock"
)

func newExpireProposalsCommand() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "expire-proposals",
		Short: "Reject reschedule proposals left undecided for too long",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.Booking.ProposalMaxAge
			}
			if maxAge <= 0 {
				return fmt.Errorf("max age must be positive, got %s", maxAge)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			clk := clock.New()
			var notifier providers.NotificationPort
			if redisClient, err := redis.NewClient(&cfg.Redis); err != nil {
				log.Warn().Err(err).Msg("Redis unavailable, expiry decisions will not be published")
			} else {
				defer redisClient.Close()
				dispatcher := services.NewNotificationDispatcher(cfg.Notification, clk,
					database.NewNotificationLogAdapter(sqlx.NewDb(client.DB(), "postgres")), nil,
					events.NewBookingEventPublisher(events.NewRedisEventBus(redisClient)))
				dispatcher.Start()
				defer func() {
					drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Notification.Timeout)
					defer drainCancel()
					if err := dispatcher.Stop(drainCtx); err != nil {
						log.Warn().Err(err).Msg("notification queue not drained")
					}
				}()
				notifier = dispatcher
			}

			svc := services.NewProposalExpiryService(database.NewAppointmentAdapter(client), notifier, clk, nil)
			expired, err := svc.ExpireStale(ctx, maxAge)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expired %d proposals older than %s\n", expired, maxAge)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "reject proposals older than this (default from config)")
	return cmd
}
