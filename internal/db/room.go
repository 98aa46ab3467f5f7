package db

import "time"

type Room struct {
	ID           string    `gorm:"size:36;primaryKey"`
	Phase        string    `gorm:"size:32;not null"`
	HostPlayerID string    `gorm:"size:36;not null;default:''"`
	Suspended    bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
