package db

import "time"

// Result is the terminal record of a session; the unique index on session_id is what
// makes concurrent tallies safe.
type Result struct {
	ID               uint      `gorm:"primaryKey"`
	SessionID        string    `gorm:"size:36;not null;uniqueIndex"`
	Outcome          string    `gorm:"size:16;not null"`
	RevealedPlayerID string    `gorm:"size:36;not null;default:''"`
	CreatedAt        time.Time `gorm:"not null"`
}
