package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zatekoja/carebook/internal/infrastructure/clients/postgres"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			return m.Up()
		}),
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			return m.Down(steps)
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the recorded version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return m.Force(version)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		}),
	})

	return cmd
}

func withMigrator(run func(*cobra.Command, *postgres.Migrator, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_, client, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		migrator, err := client.NewMigrator()
		if err != nil {
			return err
		}
		defer migrator.Close()

		return run(cmd, migrator, args)
	}
}
