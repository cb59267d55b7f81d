// Command migrate manages the Postgres schema. Against sqlite only "up" is
// supported and applies the gorm schema.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/db"
	"github.com/angelmondragon/catalog-media/pkg/logger"
	"github.com/angelmondragon/catalog-media/pkg/migrate"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	dir string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and author schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory on disk (default: embedded set)")

	root.AddCommand(
		withDB(opts, "up", "Apply every pending migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Applied, error) {
				return m.Up(ctx)
			}),
		withDB(opts, "down", "Roll back the latest migration", cobra.NoArgs,
			func(ctx context.Context, m *migrate.Migrator, _ []string) ([]migrate.Applied, error) {
				return m.Down(ctx)
			}),
		withDB(opts, "to VERSION", "Migrate up or down to VERSION (YYYYMMDDHHMMSS)", cobra.ExactArgs(1),
			func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Applied, error) {
				return m.To(ctx, args[0])
			}),
		newStatusCmd(opts),
		newCreateCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

type migrationFunc func(ctx context.Context, m *migrate.Migrator, args []string) ([]migrate.Applied, error)

func withDB(opts *options, use, short string, args cobra.PositionalArgs, run migrationFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return openDB(cmd, func(ctx context.Context, client *db.Client, sqlDB *sql.DB) error {
				if client.Dialect() == config.DBDriverSQLite {
					if cmd.Name() != "up" {
						return fmt.Errorf("sqlite only supports up")
					}
					return db.EnsureSQLiteSchema(ctx, client.DB())
				}
				m, err := migrate.New(sqlDB, migrate.Source(opts.dir))
				if err != nil {
					return err
				}
				applied, err := run(ctx, m, args)
				printApplied(cmd.OutOrStdout(), applied)
				return err
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return openDB(cmd, func(ctx context.Context, client *db.Client, sqlDB *sql.DB) error {
				if client.Dialect() == config.DBDriverSQLite {
					return fmt.Errorf("sqlite has no migration history")
				}
				m, err := migrate.New(sqlDB, migrate.Source(opts.dir))
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			})
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Write an empty migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = migrate.SourceDir
			}
			path, err := migrate.Create(dir, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check migration filenames and goose annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.ValidateFS(migrate.Source(opts.dir)); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	}
}

// openDB loads config, connects and hands the connection to fn.
func openDB(cmd *cobra.Command, fn func(ctx context.Context, client *db.Client, sqlDB *sql.DB) error) error {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(cmd.Context(), map[string]any{"env": cfg.App.Env, "cmd": cmd.Name()})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	logg.Info(ctx, "migrate ready")
	return fn(ctx, client, sqlDB)
}

func printApplied(w io.Writer, applied []migrate.Applied) {
	for _, a := range applied {
		fmt.Fprintf(w, "%-5s %d %s\n", a.Direction, a.Version, a.Path)
	}
}
