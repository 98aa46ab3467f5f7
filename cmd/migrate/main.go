package main

import (
	"errors"
	"flag"

	"insider/internal/config"
	"insider/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", "db/migrations", "migrations directory")
	down := flag.Bool("down", false, "roll back one migration instead of applying all")
	flag.Parse()

	logger := logging.Must(false)
	defer func() { _ = logger.Sync() }()
	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("failed to load .env", zap.Error(err))
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("migration setup failed", zap.Error(err))
	}
	defer m.Close()

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	version, dirty, _ := m.Version()
	logger.Info("database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
