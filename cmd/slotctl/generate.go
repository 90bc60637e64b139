package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zatekoja/carebook/internal/adapters/database"
	"github.com/zatekoja/carebook/internal/application/services"
	"github.com/zatekoja/carebook/internal/domain/entities"
	"github.com/zatekoja/carebook/pkg/clock"
)

type generateOptions struct {
	providerID string
	from       string
	horizon    int
	templates  []string
	duration   int
	feeMin     float64
	feeMax     float64
	mode       string
}

func newGenerateCommand() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate bookable slots for a provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request(cmd)
			if err != nil {
				return err
			}

			cfg, client, err := connect()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc := services.NewSlotService(
				database.NewSlotAdapter(client),
				database.NewAppointmentAdapter(client),
				clock.New(),
				cfg.Booking,
			)
			slots, err := svc.Generate(ctx, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "generated %d slots for provider %s\n", len(slots), req.ProviderID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.providerID, "provider", "", "provider ID (required)")
	flags.StringVar(&opts.from, "from", "", "first day as YYYY-MM-DD (default today)")
	flags.IntVar(&opts.horizon, "days", 0, "number of business days (default from config)")
	flags.StringSliceVar(&opts.templates, "templates", nil, "daily start times as HH:MM (default from config)")
	flags.IntVar(&opts.duration, "duration", 0, "slot length in minutes (default from config)")
	flags.Float64Var(&opts.feeMin, "fee-min", 0, "lowest slot fee")
	flags.Float64Var(&opts.feeMax, "fee-max", 0, "highest slot fee")
	flags.StringVar(&opts.mode, "mode", "", "consultation mode: in-person, telemedicine or phone")
	_ = cmd.MarkFlagRequired("provider")

	return cmd
}

func (o generateOptions) request(cmd *cobra.Command) (services.GenerateSlotsRequest, error) {
	req := services.GenerateSlotsRequest{
		ProviderID:      o.providerID,
		HorizonDays:     o.horizon,
		Templates:       o.templates,
		DurationMinutes: o.duration,
		Mode:            entities.ConsultationMode(o.mode),
	}
	if o.from != "" {
		from, err := time.Parse(time.DateOnly, o.from)
		if err != nil {
			return req, fmt.Errorf("invalid --from %q: %w", o.from, err)
		}
		req.FromDate = from
	}
	if cmd.Flags().Changed("fee-min") {
		req.FeeMin = &o.feeMin
	}
	if cmd.Flags().Changed("fee-max") {
		req.FeeMax = &o.feeMax
	}
	return req, nil
}
