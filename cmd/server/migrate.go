package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agridetect/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		migrateAction("up", "Apply all pending migrations", func(ctx context.Context, m *store.Migrator) (string, error) {
			if err := m.Up(ctx); err != nil && !errors.Is(err, store.ErrNoChange) {
				return "", err
			}
			return "Migrations applied", nil
		}),
		migrateAction("down", "Roll back the latest migration", func(ctx context.Context, m *store.Migrator) (string, error) {
			if err := m.Down(ctx); err != nil && !errors.Is(err, store.ErrNoChange) {
				return "", err
			}
			return "Migration rolled back", nil
		}),
		migrateAction("version", "Print the current schema version", func(ctx context.Context, m *store.Migrator) (string, error) {
			v, dirty, err := m.Version(ctx)
			if err != nil {
				return "", err
			}
			if dirty {
				return fmt.Sprintf("version %d (dirty)", v), nil
			}
			return fmt.Sprintf("version %d", v), nil
		}),
	)
	return cmd
}

func migrateAction(use, short string, fn func(context.Context, *store.Migrator) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			m, err := store.NewMigrator(store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
			if err != nil {
				return err
			}
			msg, err := fn(ctx, m)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}
