package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/porthorian/sessionauth/pkg/storage/postgres"
)

const (
	envMigrateDatabaseURL     = "SESSIONAUTH_MIGRATE_DATABASE_URL"
	envDatabaseURL            = "SESSIONAUTH_DATABASE_URL"
	envMigrateMigrationsTable = "SESSIONAUTH_MIGRATE_MIGRATIONS_TABLE"

	defaultMigrationsTable = "sessionauth.schema_migrations"
	embeddedSourceName     = "embedded://sessionauth"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	// MigrationsPath overrides the migrations compiled into the binary.
	MigrationsPath string
}

// schemaRunner is an open migrate instance plus a printable name for where
// its migration files came from.
type schemaRunner struct {
	*migrate.Migrate
	source string
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{MigrationsTable: defaultMigrationsTable}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres principal directory schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := migrateCmd.PersistentFlags()
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via "+envMigrateDatabaseURL+" or "+envDatabaseURL+".")
	flags.StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table, as table or schema.table. Can also be set via "+envMigrateMigrationsTable+".")
	flags.StringVar(&cfg.MigrationsPath, "migrations-path", "", "Directory or source URL for migration files. Defaults to the migrations built into the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, limited, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}
			if !limited {
				return withSchemaRunner(cmd, cfg, func(runner schemaRunner) error {
					return report(cmd, runner, "Applied", runner.Up(), 0)
				})
			}
			return withSchemaRunner(cmd, cfg, func(runner schemaRunner) error {
				return report(cmd, runner, "Applied", runner.Steps(steps), steps)
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}
			return withSchemaRunner(cmd, cfg, func(runner schemaRunner) error {
				return report(cmd, runner, "Rolled back", runner.Steps(-steps), steps)
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set the migration version (-1 for no version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}
			return withSchemaRunner(cmd, cfg, func(runner schemaRunner) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force schema version: %w", err)
				}
				cmd.Printf("Schema version set to %d.\n", version)
				return nil
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSchemaRunner(cmd, cfg, func(runner schemaRunner) error {
				version, dirty, err := runner.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					cmd.Println("Schema is empty.")
				case err != nil:
					return fmt.Errorf("read schema version: %w", err)
				default:
					cmd.Printf("Schema version %d (dirty: %t)\n", version, dirty)
				}
				return nil
			})
		},
	})

	return migrateCmd
}

// report prints the outcome of an up or down run. requested is zero for an
// unbounded up.
func report(cmd *cobra.Command, runner schemaRunner, verb string, err error, requested int) error {
	moved, err := stepsTaken(err, requested)
	if err != nil {
		return fmt.Errorf("%s migrations: %w", strings.ToLower(verb), err)
	}

	switch {
	case moved == 0:
		cmd.Println("Schema is already at the requested version.")
	case moved < 0:
		cmd.Printf("%s all pending migrations from %s\n", verb, runner.source)
	case moved < requested:
		cmd.Printf("%s %d of %d migration step(s) from %s\n", verb, moved, requested, runner.source)
	default:
		cmd.Printf("%s %d migration step(s) from %s\n", verb, moved, runner.source)
	}
	return nil
}

// stepsTaken turns a migrate result into the number of steps that ran, -1
// for an unbounded up that changed something. Running out of migrations is
// not an error.
func stepsTaken(err error, requested int) (int, error) {
	var short migrate.ErrShortLimit
	switch {
	case err == nil && requested == 0:
		return -1, nil
	case err == nil:
		return requested, nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		return 0, nil
	case errors.As(err, &short):
		return requested - int(short.Short), nil
	default:
		return 0, err
	}
}

func withSchemaRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner schemaRunner) error) error {
	runner, err := openSchemaRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: closing migration runner: %v\n", closeErr)
		}
	}()
	return fn(runner)
}

func openSchemaRunner(cfg migrateConfig) (schemaRunner, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return schemaRunner{}, err
	}
	table, err := parseMigrationsTableSpec(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return schemaRunner{}, err
	}
	if err := ensureMigrationsSchemaExists(databaseURL, table); err != nil {
		return schemaRunner{}, err
	}
	if databaseURL, err = applyMigrationsTable(databaseURL, table); err != nil {
		return schemaRunner{}, err
	}

	if strings.TrimSpace(cfg.MigrationsPath) == "" {
		files, err := iofs.New(postgres.Migrations, postgres.MigrationsDir)
		if err != nil {
			return schemaRunner{}, fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", files, databaseURL)
		if err != nil {
			return schemaRunner{}, fmt.Errorf("create migration runner: %w", err)
		}
		return schemaRunner{Migrate: m, source: embeddedSourceName}, nil
	}

	sourceURL, err := migrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return schemaRunner{}, err
	}
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return schemaRunner{}, fmt.Errorf("create migration runner: %w", err)
	}
	return schemaRunner{Migrate: m, source: sourceURL}, nil
}

func resolveDatabaseURL(flagValue string) (string, error) {
	databaseURL := firstNonEmpty(flagValue, envMigrateDatabaseURL, envDatabaseURL)
	if databaseURL == "" {
		return "", fmt.Errorf("missing database URL: set --database-url or %s", envMigrateDatabaseURL)
	}
	return databaseURL, nil
}

func resolveMigrationsTable(flagValue string) string {
	if value := firstNonEmpty(flagValue, envMigrateMigrationsTable); value != "" {
		return value
	}
	return defaultMigrationsTable
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}
	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func migrationsSourceURL(pathOrURL string) (string, error) {
	pathOrURL = strings.TrimSpace(pathOrURL)
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}
	dir, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(dir), nil
}

type migrationsTableSpec struct {
	Schema string
	Table  string
}

// Version table names are plain postgres identifiers.
var identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func parseMigrationsTableSpec(value string) (migrationsTableSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationsTableSpec{}, nil
	}

	parts := strings.Split(raw, ".")
	for _, part := range parts {
		if !identifierRegexp.MatchString(part) {
			return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: %q is not an identifier", value, part)
		}
	}
	switch len(parts) {
	case 1:
		return migrationsTableSpec{Table: parts[0]}, nil
	case 2:
		return migrationsTableSpec{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

// applyMigrationsTable points the postgres driver at the version table. A
// table already named in the URL wins.
func applyMigrationsTable(databaseURL string, spec migrationsTableSpec) (string, error) {
	if spec.Table == "" {
		return databaseURL, nil
	}
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}
	if spec.Schema == "" {
		query.Set("x-migrations-table", spec.Table)
	} else {
		query.Set("x-migrations-table", pq.QuoteIdentifier(spec.Schema)+"."+pq.QuoteIdentifier(spec.Table))
		query.Set("x-migrations-table-quoted", "true")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureMigrationsSchemaExists creates the schema holding the version table;
// the postgres driver only creates the table itself.
func ensureMigrationsSchemaExists(databaseURL string, spec migrationsTableSpec) error {
	if spec.Schema == "" {
		return nil
	}
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsed).String())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(spec.Schema)); err != nil {
		return fmt.Errorf("create schema %q: %w", spec.Schema, err)
	}
	return nil
}
