package cmd

import (
	"fmt"
	"log/slog"

	"github.com/taskmind/taskmind/db"
	"github.com/taskmind/taskmind/internal/config"
)

// runMigrate applies pending database migrations and exits. Serve and mcp
// migrate on startup anyway; this command exists for deploy pipelines that
// migrate before rolling instances.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("database migrations applied",
		"host", cfg.PostgresHost, "database", cfg.PostgresDBName)
	return nil
}
