// Command migrate applies or rolls back the embedded database schema.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/retailops/stockledger/internal/app"
	"github.com/retailops/stockledger/internal/platform/migrations"
)

func main() {
	steps := flag.Int("steps", 0, "apply n migrations (negative rolls back)")
	down := flag.Bool("down", false, "roll back every migration")
	force := flag.Int("force", -1, "force the schema version without running migrations")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	m, err := migrations.New(cfg.PGDSN, logger)
	if err != nil {
		logger.Error("open migrator", slog.Any("error", err))
		os.Exit(1)
	}

	switch {
	case *force >= 0:
		err = m.Force(*force)
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		_ = m.Close()
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Warn("read version", slog.Any("error", err))
	} else {
		fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	}
	if err := m.Close(); err != nil {
		logger.Warn("close migrator", slog.Any("error", err))
	}
}
