package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilePersistence implements SessionPersistence using one JSON file per game
type FilePersistence struct {
	sessionsDir string
}

// NewFilePersistence creates a new file-based persistence layer
func NewFilePersistence(sessionsDir string) (*FilePersistence, error) {
	// Create sessions directory if it doesn't exist
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &FilePersistence{sessionsDir: sessionsDir}, nil
}

// Save persists a game to a JSON file. The file is replaced atomically.
func (fp *FilePersistence) Save(game *Game) error {
	if game == nil {
		return fmt.Errorf("game cannot be nil")
	}
	if !validID(game.ID) {
		return ErrInvalidSessionID
	}

	data := PersistedGameData{Format: persistedFormat, Game: game}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game data: %w", err)
	}

	filePath := fp.getFilePath(game.ID)
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write game file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to replace game file: %w", err)
	}

	return nil
}

// Load retrieves a game from a JSON file
func (fp *FilePersistence) Load(id string) (*Game, error) {
	if !validID(id) {
		return nil, ErrInvalidSessionID
	}
	jsonData, err := os.ReadFile(fp.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read game file: %w", err)
	}

	var data PersistedGameData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game data: %w", err)
	}
	if data.Format != persistedFormat {
		return nil, fmt.Errorf("unsupported game file format %d", data.Format)
	}
	if data.Game == nil || data.Game.ID != id {
		return nil, fmt.Errorf("game file %s holds a different game", id)
	}

	return data.Game, nil
}

// Delete removes a game file
func (fp *FilePersistence) Delete(id string) error {
	if !fp.Exists(id) {
		return ErrSessionNotFound
	}

	if err := os.Remove(fp.getFilePath(id)); err != nil {
		return fmt.Errorf("failed to remove game file: %w", err)
	}

	return nil
}

// ListAll returns all persisted game IDs
func (fp *FilePersistence) ListAll() ([]string, error) {
	entries, err := os.ReadDir(fp.sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}

	return ids, nil
}

// Exists checks if a game file exists
func (fp *FilePersistence) Exists(id string) bool {
	if !validID(id) {
		return false
	}
	_, err := os.Stat(fp.getFilePath(id))
	return err == nil
}

// getFilePath returns the full file path for a game ID
func (fp *FilePersistence) getFilePath(id string) string {
	return filepath.Join(fp.sessionsDir, fmt.Sprintf("%s.json", id))
}

// validID rejects ids that could escape the sessions directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\.`)
}
