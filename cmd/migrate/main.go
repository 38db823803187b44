// Package main applies the embedded schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/galaxy4276/HANBAT-BOX/migrations"
)

const envDSN = "DATABASE_URL"

func main() {
	var (
		dsn     = flag.String("dsn", "", "Database connection string (default $DATABASE_URL)")
		up      = flag.Bool("up", false, "Run all up migrations")
		down    = flag.Bool("down", false, "Run all down migrations")
		steps   = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version = flag.Bool("version", false, "Print current migration version")
		force   = flag.Int("force", -1, "Force set version (use with caution)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	if *dsn == "" {
		*dsn = os.Getenv(envDSN)
	}
	if *dsn == "" {
		logger.Error("no database connection string", "hint", "pass -dsn or set "+envDSN)
		os.Exit(2)
	}

	if err := run(*dsn, *up, *down, *steps, *version, forceSet, *force, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(dsn string, up, down bool, steps int, version, forceSet bool, force int, logger *slog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	switch {
	case version:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		logger.Info("current version", "version", v, "dirty", dirty)
	case forceSet:
		if err := m.Force(force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		logger.Info("forced version", "version", force)
	case up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up: %w", err)
		}
		logger.Info("migrations applied")
	case down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("down: %w", err)
		}
		logger.Info("migrations reverted")
	case steps != 0:
		if err := m.Steps(steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("steps %d: %w", steps, err)
		}
		logger.Info("applied migration steps", "steps", steps)
	default:
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn <connection-string>] [-up|-down|-steps N|-version|-force N]")
		flag.PrintDefaults()
	}
	return nil
}
