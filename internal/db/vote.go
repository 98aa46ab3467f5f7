package db

import "time"

type Vote struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:36;index;not null;uniqueIndex:idx_votes_session_player_type_round"`
	PlayerID  string    `gorm:"size:36;not null;uniqueIndex:idx_votes_session_player_type_round"`
	VoteType  string    `gorm:"size:8;not null;uniqueIndex:idx_votes_session_player_type_round"`
	Round     int       `gorm:"not null;uniqueIndex:idx_votes_session_player_type_round"`
	Value     string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
