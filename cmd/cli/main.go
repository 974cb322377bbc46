package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/application/facade"
	"github.com/memorycore/memorycore/internal/infrastructure/config"
	"github.com/memorycore/memorycore/internal/infrastructure/logging"
	"github.com/memorycore/memorycore/internal/infrastructure/storage"
)

const (
	cliVersion = "0.1.0"
	cliName    = "memorycore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     cliName,
		Short:   "memorycore — conversational memory subsystem maintenance CLI",
		Version: cliVersion,
	}

	rootCmd.AddCommand(newCheckCmd(), newFullCmd(), newMigrationsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	return logging.New(config.LogConfig{Level: "info", Format: "console"})
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "report row counts across every store",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			mem, err := facade.New(cfg, log)
			if err != nil {
				return fmt.Errorf("initialize memory core: %w", err)
			}
			defer mem.Close()

			counts, err := mem.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			fmt.Printf("sessions:           %d\n", counts.Sessions)
			fmt.Printf("messages:           %d\n", counts.Messages)
			fmt.Printf("archived messages:  %d\n", counts.ArchivedMessages)
			fmt.Printf("interaction logs:   %d\n", counts.InteractionLogs)
			fmt.Printf("memories:           %d\n", counts.Memories)
			fmt.Printf("graph entities:     %d\n", counts.Entities)
			fmt.Printf("graph relations:    %d\n", counts.Relations)
			return nil
		},
	}
}

func newFullCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "full",
		Short: "run the full eight-phase maintenance pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			mem, err := facade.New(cfg, log)
			if err != nil {
				return fmt.Errorf("initialize memory core: %w", err)
			}
			defer mem.Close()

			report := mem.RunMaintenance(cmd.Context(), dryRun)

			failed := false
			for _, phase := range report.Phases {
				status := "ok"
				if phase.Err != nil {
					status = phase.Err.Error()
					failed = true
				}
				fmt.Printf("%-28s count=%-6d dry_run=%-5t %s\n", phase.Name, phase.Count, phase.DryRun, status)
			}
			if failed {
				return fmt.Errorf("one or more maintenance phases failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without mutating any store")
	return cmd
}

func newMigrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "inspect and apply schema migrations",
	}
	cmd.AddCommand(newMigrationsStatusCmd(), newMigrationsListCmd(), newMigrationsApplyCmd())
	return cmd
}

func connectForMigrations(ctx context.Context) (*storage.ConnectionManager, *storage.SchemaManager, *zap.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := storage.NewConnectionManager(cfg.Database, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect storage: %w", err)
	}
	return conn, storage.NewSchemaManager(conn), log, nil
}

func newMigrationsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the currently applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, sm, log, err := connectForMigrations(cmd.Context())
			if err != nil {
				return err
			}
			defer log.Sync()
			defer conn.Close()

			version, err := sm.Version()
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("schema version: %d (target: %d)\n", version, storage.CurrentSchemaVersion)
			return nil
		},
	}
}

func newMigrationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every known migration and its applied state",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, sm, log, err := connectForMigrations(cmd.Context())
			if err != nil {
				return err
			}
			defer log.Sync()
			defer conn.Close()

			statuses, err := sm.Status()
			if err != nil {
				return fmt.Errorf("list migrations: %w", err)
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%3d  %-28s %s\n", s.Version, s.Name, state)
			}
			return nil
		},
	}
}

func newMigrationsApplyCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, sm, log, err := connectForMigrations(cmd.Context())
			if err != nil {
				return err
			}
			defer log.Sync()
			defer conn.Close()

			if dryRun {
				statuses, err := sm.Status()
				if err != nil {
					return fmt.Errorf("list migrations: %w", err)
				}
				for _, s := range statuses {
					if !s.Applied {
						fmt.Printf("would apply %d %s\n", s.Version, s.Name)
					}
				}
				return nil
			}

			if err := sm.Migrate(); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			version, err := sm.Version()
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("schema at version %d\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
