package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"insider/internal/config"
	"insider/internal/db"
	"insider/internal/logging"
	"insider/internal/server"
	"insider/internal/store"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	dotenvErr := config.LoadDotEnv(".env")
	cfg, err := config.Load()
	if err != nil {
		logging.Must(false).Fatal("config load failed", zap.Error(err))
	}
	logger := logging.Must(cfg.Debug)
	defer func() { _ = logger.Sync() }()
	if dotenvErr != nil {
		logger.Warn("failed to load .env", zap.Error(dotenvErr))
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store setup failed", zap.Error(err))
	}

	srv := server.New(st, cfg, logger)
	defer srv.Close()
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		logger.Info("insider server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	p.Go(func(ctx context.Context) error {
		return srv.RunPresenceSweeper(ctx, cfg.PresenceSweepInterval())
	})
	if err := p.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// openStore uses Postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set; using in-memory store")
		return store.NewMemory(), nil
	}
	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := db.Migrate(conn, logger); err != nil {
			return nil, err
		}
	}
	return store.NewPostgres(conn), nil
}
