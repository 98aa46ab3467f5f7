package main

import (
	"flag"

	"insider/internal/config"
	"insider/internal/db"
	"insider/internal/logging"

	"go.uber.org/zap"
)

func main() {
	filePath := flag.String("file", "topics.csv", "path to a difficulty,text topics csv")
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

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	loaded, err := db.LoadTopicLibrary(conn, *filePath)
	if err != nil {
		logger.Fatal("failed to load topics", zap.Int("loaded", loaded), zap.Error(err))
	}
	logger.Info("loaded topics", zap.Int("count", loaded), zap.String("file", *filePath))
}
