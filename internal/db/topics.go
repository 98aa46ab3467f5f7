package db

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"insider/internal/game"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadTopicLibrary reads "difficulty,text" rows from a CSV and upserts them into the
// topic_library table. It returns the number of rows read.
func LoadTopicLibrary(conn *gorm.DB, path string) (int, error) {
	if conn == nil {
		return 0, errors.New("db connection is nil")
	}
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	records, err := ReadTopics(file)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, record := range records {
		entry := TopicLibrary{
			Difficulty: string(record.Difficulty),
			Text:       record.Text,
		}
		if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// ReadTopics parses a topics CSV. The first row is a header. A row with a single column
// is a normal-difficulty topic; rows with an unknown difficulty are skipped.
func ReadTopics(r io.Reader) ([]game.Topic, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var topics []game.Topic
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		rawDifficulty, text := "", ""
		if len(row) >= 2 {
			rawDifficulty = strings.TrimSpace(row[0])
			text = strings.TrimSpace(row[1])
		} else {
			text = strings.TrimSpace(row[0])
		}
		if text == "" {
			continue
		}
		difficulty, err := game.ParseDifficulty(strings.ToLower(rawDifficulty))
		if err != nil {
			continue
		}
		topics = append(topics, game.Topic{Text: text, Difficulty: difficulty})
	}
	return topics, nil
}
