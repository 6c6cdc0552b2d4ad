package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/fmx/matrix-engine/internal/model"
)

// FileStore implements Store with one JSON document per user on the local
// filesystem. Writes go to a temp file first and are renamed into place, so
// a crash mid-write never leaves a truncated record behind.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file-backed store rooted at baseDir. The directory
// is created on first save.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

var fileKeySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *FileStore) path(userID string) string {
	safe := fileKeySanitizer.ReplaceAllString(userID, "_")
	return filepath.Join(s.baseDir, "positions-"+safe+".json")
}

func (s *FileStore) Save(_ context.Context, userID string, positions []model.Position) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("store: create data dir: %w", err)
	}

	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode positions: %w", err)
	}

	path := s.path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write positions: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Load(_ context.Context, userID string) ([]model.Position, error) {
	path := s.path(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read positions: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var positions []model.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		// Corrupt record: discard and start empty rather than failing the
		// session (availability over durability for this ledger).
		slog.Warn("discarding corrupt position record", "user", userID, "path", path, "err", err)
		os.Remove(path)
		return nil, nil
	}
	return positions, nil
}
