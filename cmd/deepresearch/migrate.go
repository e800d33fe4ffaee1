package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/yanfeng98/fork-gemini-deepresearch/config"
	"github.com/yanfeng98/fork-gemini-deepresearch/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles `deepresearch migrate <up|down|status|version>`.
// sqlite has no versioned migrations; `up` creates the table with AutoMigrate instead.
func runMigrate(args []string, stdout io.Writer) error {
	action := "status"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		action, args = args[0], args[1:]
	}
	if action == "help" {
		printMigrateUsage(stdout)
		return nil
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	dsn := cfg.Database.DSN()
	if *dbURL != "" {
		dsn = *dbURL
	}

	t, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	migrator, err := migration.NewMigrator(migration.Config{DatabaseType: t, DSN: dsn}, logger)
	if errors.Is(err, migration.ErrUnsupported) {
		if action != "up" {
			return fmt.Errorf("%s: only 'up' is available for %s", err, t)
		}
		cfg.Database.Name = dsn
		_, closeStore, err := openReportStore(ctx, withAutoMigrate(cfg.Database), nil, logger)
		if err != nil {
			return err
		}
		closeStore()
		_, err = fmt.Fprintf(stdout, "Schema created for %s\n", t)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	return migration.NewCLI(migrator).Run(ctx, action)
}

func withAutoMigrate(cfg config.DatabaseConfig) config.DatabaseConfig {
	cfg.AutoMigrate = true
	return cfg
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  deepresearch migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status (default)
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)`)
}
