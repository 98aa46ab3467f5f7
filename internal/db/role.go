package db

import (
	"time"

	"insider/internal/game"
)

type Role struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:36;index;not null;uniqueIndex:idx_roles_session_player"`
	PlayerID  string    `gorm:"size:36;not null;uniqueIndex:idx_roles_session_player"`
	Role      game.Role `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"not null"`
}
