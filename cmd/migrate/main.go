// Command migrate manages the database schema.
//
//	migrate up                  apply all pending migrations
//	migrate down                roll back every migration
//	migrate step N              apply (N>0) or roll back (N<0) N migrations
//	migrate goto V              migrate to version V
//	migrate version             print the current version
//	migrate force V             set the version without running migrations
//	migrate drop                drop everything in the database
//	migrate create NAME         write an empty up/down pair
//	migrate list                list the known migrations
package main

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/itechsmart/sentinel/internal/infrastructure/config"
	"github.com/itechsmart/sentinel/internal/infrastructure/logger"
	"github.com/itechsmart/sentinel/internal/infrastructure/migration"
	"github.com/itechsmart/sentinel/migrations"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	dir        string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the gateway database schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "read migrations from this directory instead of the embedded set")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		migratorCommand(opts, "up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		migratorCommand(opts, "down", "Roll back every migration", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Down() }),
		migratorCommand(opts, "step N", "Apply N migrations, or roll back when N is negative", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return m.Steps(n)
			}),
		migratorCommand(opts, "goto V", "Migrate up or down to version V", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.GoTo(uint(v))
			}),
		migratorCommand(opts, "version", "Print the current schema version", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version: %d, dirty: %t\n", v, dirty)
				return nil
			}),
		migratorCommand(opts, "force V", "Set the schema version without running migrations", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.Force(v)
			}),
		migratorCommand(opts, "drop", "Drop everything in the database", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Drop() }),
		createCommand(opts),
		listCommand(opts),
	)
	return root
}

// migratorCommand builds a subcommand that needs a database connection
func migratorCommand(
	opts *options,
	use, short string,
	args cobra.PositionalArgs,
	run func(m *migration.Migrator, args []string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			db, err := sql.Open("postgres", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.Close() }()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}

			m, err := migration.New(db, source(opts.dir), log)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					log.Warn("Failed to close migrator", zap.Error(err))
				}
			}()

			return run(m, args)
		},
	}
}

func createCommand(opts *options) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Write an empty up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if dir == "" {
				dir = "migrations"
			}
			f, err := migration.CreateMigration(dir, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Created", f.UpPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Created", f.DownPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "description written into the file header")
	return cmd
}

func listCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the known migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := migration.ListMigrations(source(opts.dir))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func source(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(level string) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
}
