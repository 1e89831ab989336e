package session

// SessionPersistence defines the interface for persisting games
type SessionPersistence interface {
	// Save persists a game to storage
	Save(game *Game) error

	// Load retrieves a game from storage by ID
	Load(id string) (*Game, error)

	// Delete removes a game from storage
	Delete(id string) error

	// ListAll returns all persisted game IDs
	ListAll() ([]string, error)

	// Exists checks if a game exists in storage
	Exists(id string) bool
}

// persistedFormat is bumped when the stored JSON layout changes.
const persistedFormat = 1

// PersistedGameData represents the JSON structure for persisted games
type PersistedGameData struct {
	Format int   `json:"format"`
	Game   *Game `json:"game"`
}
