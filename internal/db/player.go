package db

import "time"

type Player struct {
	ID         string    `gorm:"size:36;primaryKey"`
	RoomID     string    `gorm:"size:36;index;not null;uniqueIndex:idx_players_room_nickname"`
	Nickname   string    `gorm:"size:64;not null;uniqueIndex:idx_players_room_nickname"`
	IsHost     bool      `gorm:"not null;default:false"`
	Connected  bool      `gorm:"not null;default:true"`
	Ready      bool      `gorm:"not null;default:false"`
	LastSeenAt time.Time `gorm:"not null"`
	JoinedAt   time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
