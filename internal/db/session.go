package db

import (
	"time"

	"gorm.io/datatypes"
)

// GameSession is one played round inside a room. Version increases with every applied
// phase write so subscribers can drop stale broadcasts.
type GameSession struct {
	ID               string                      `gorm:"size:36;primaryKey"`
	RoomID           string                      `gorm:"size:36;index;not null"`
	Difficulty       string                      `gorm:"size:16;not null"`
	Phase            string                      `gorm:"size:32;not null"`
	StartedAt        time.Time                   `gorm:"not null"`
	DeadlineAt       *time.Time                  `gorm:""`
	AnswererID       string                      `gorm:"size:36;not null;default:''"`
	PreviousMasterID string                      `gorm:"size:36;not null;default:''"`
	MasterID         string                      `gorm:"size:36;not null"`
	InsiderID        string                      `gorm:"size:36;not null"`
	VoteRound        int                         `gorm:"not null;default:0"`
	Candidates       datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Version          int64                       `gorm:"not null;default:1"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time                   `gorm:"not null"`
}
