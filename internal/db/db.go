package db

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres using dsn and applies the pool limits.
func Open(dsn string, pool PoolConfig) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return conn, nil
}

// activeSessionIndex keeps at most one unfinished session per room.
const activeSessionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_game_sessions_active_room
	ON game_sessions (room_id) WHERE phase <> 'RESULT'`

// Migrate runs GORM auto-migrations for the core tables.
func Migrate(conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(
		&Room{},
		&Player{},
		&GameSession{},
		&Role{},
		&Topic{},
		&TopicLibrary{},
		&Vote{},
		&Result{},
		&Event{},
	); err != nil {
		return err
	}
	if err := conn.Exec(activeSessionIndex).Error; err != nil {
		return err
	}
	log.Info("database migration complete")
	return nil
}
