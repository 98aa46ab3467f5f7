package db

import (
	"time"

	"gorm.io/datatypes"
)

// Topic is the secret word of a session plus the options the Master was offered.
type Topic struct {
	ID         uint                        `gorm:"primaryKey"`
	SessionID  string                      `gorm:"size:36;not null;uniqueIndex"`
	RoomID     string                      `gorm:"size:36;index;not null"`
	Text       string                      `gorm:"size:280;not null"`
	Difficulty string                      `gorm:"size:16;not null"`
	Options    datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt  time.Time                   `gorm:"not null"`
	UpdatedAt  time.Time                   `gorm:"not null"`
}
