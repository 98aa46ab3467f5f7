package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"insider/internal/logging"

	"go.uber.org/zap"
)

var migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

func main() {
	name := flag.String("name", "", "migration name")
	dir := flag.String("dir", filepath.Join("db", "migrations"), "migrations directory")
	flag.Parse()

	logger := logging.Must(false)
	defer func() { _ = logger.Sync() }()
	if *name == "" {
		logger.Fatal("migration name is required")
	}
	if strings.ContainsAny(*name, " ") {
		logger.Fatal("migration name must not contain spaces")
	}

	next, err := nextSequence(*dir)
	if err != nil {
		logger.Fatal("scan migrations", zap.Error(err))
	}
	base := fmt.Sprintf("%06d_%s", next, *name)
	upPath := filepath.Join(*dir, base+".up.sql")
	downPath := filepath.Join(*dir, base+".down.sql")

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		logger.Fatal("create migrations dir", zap.Error(err))
	}
	if err := writeFile(upPath, "BEGIN;\n\nCOMMIT;\n"); err != nil {
		logger.Fatal("create up migration", zap.Error(err))
	}
	if err := writeFile(downPath, "BEGIN;\n\nCOMMIT;\n"); err != nil {
		logger.Fatal("create down migration", zap.Error(err))
	}
	logger.Info("created migration", zap.String("up", upPath), zap.String("down", downPath))
}

// nextSequence follows golang-migrate's zero-padded sequential numbering.
func nextSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	highest := 0
	for _, entry := range entries {
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
