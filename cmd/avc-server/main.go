package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avc/patientforms/internal/config"
	"github.com/avc/patientforms/internal/platform/db"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avc-server",
		Short: "Stroke registry patient-form screen API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg.Env))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres record store schema",
	}

	openMigrator := func(ctx context.Context, dir string) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.RecordStore != config.StorePostgres {
			return nil, nil, fmt.Errorf("migrations only apply to RECORD_STORE=%s", config.StorePostgres)
		}
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, os.DirFS(dir)), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			m, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := m.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			m, closeFn, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-40s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, s := range statuses {
				status, at := "pending", ""
				if s.Applied {
					status = "applied"
					at = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%-8d %-40s %-8s %s\n", s.Version, s.Name, status, at)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}
