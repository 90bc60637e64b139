// Command slotctl is the operator CLI for schema migrations, slot
// generation and proposal expiry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/carebook/internal/infrastructure/observability"
	"github.com/zatekoja/carebook/pkg/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "slotctl",
		Short:         "Operate the carebook booking database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCommand())
	root.AddCommand(newGenerateCommand())
	root.AddCommand(newExpireProposalsCommand())
	return root
}

// connect loads configuration, initializes logging and opens PostgreSQL
func connect() (*config.Config, *postgres.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-slotctl", cfg.Env, cfg.LogLevel)

	client, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, client, nil
}
