package db

import "time"

type TopicLibrary struct {
	ID         uint      `gorm:"primaryKey"`
	Difficulty string    `gorm:"size:16;not null;uniqueIndex:idx_topic_library_difficulty_text"`
	Text       string    `gorm:"size:280;not null;uniqueIndex:idx_topic_library_difficulty_text"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (TopicLibrary) TableName() string {
	return "topic_library"
}
