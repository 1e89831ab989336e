package session

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSessionNotFound      = errors.New("game not found")
	ErrSessionAlreadyExists = errors.New("game already exists")
	ErrInvalidSessionID     = errors.New("invalid game ID")
)

// Manager is the live store of games. It is created at process start and
// closed on shutdown; nothing else holds games.
//
// The manager guards its own index. A Game it returns is shared: callers
// mutate it only while holding that game's lock.
type Manager struct {
	games       map[string]*Game
	index       map[string]gameMeta
	persistence SessionPersistence
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewManager creates an in-memory manager
func NewManager(logger *zap.Logger) *Manager {
	return NewManagerWithPersistence(nil, logger)
}

// NewManagerWithPersistence creates a manager that writes through to
// persistence. Persistence failures are logged; memory stays authoritative.
func NewManagerWithPersistence(persistence SessionPersistence, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		games:       make(map[string]*Game),
		index:       make(map[string]gameMeta),
		persistence: persistence,
		logger:      logger.Named("session"),
	}
}

// Create adds a new game
func (m *Manager) Create(game *Game) error {
	if game == nil || game.ID == "" {
		return ErrInvalidSessionID
	}

	m.mu.Lock()
	if _, exists := m.games[game.ID]; exists {
		m.mu.Unlock()
		return ErrSessionAlreadyExists
	}
	m.games[game.ID] = game
	m.index[game.ID] = metaOf(game)
	m.mu.Unlock()

	m.persist(game)
	return nil
}

// Get retrieves a game by ID, falling back to persistence
func (m *Manager) Get(id string) (*Game, error) {
	m.mu.RLock()
	game, exists := m.games[id]
	m.mu.RUnlock()
	if exists {
		return game, nil
	}

	if m.persistence != nil && m.persistence.Exists(id) {
		loaded, err := m.persistence.Load(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted game: %w", err)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		// Another caller may have loaded it meanwhile.
		if game, exists := m.games[id]; exists {
			return game, nil
		}
		m.games[id] = loaded
		m.index[id] = metaOf(loaded)
		return loaded, nil
	}

	return nil, ErrSessionNotFound
}

// List returns all live games, oldest first
func (m *Manager) List() []*Game {
	m.mu.RLock()
	result := make([]*Game, 0, len(m.games))
	for _, game := range m.games {
		result = append(result, game)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// FindWaiting returns the oldest WAITING game of roomType that playerID is
// not already seated in. The answer comes from the index, so the caller must
// re-check the game after taking its lock.
func (m *Manager) FindWaiting(roomType, playerID string) *Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Game
	var bestMeta gameMeta
	for id, meta := range m.index {
		if meta.status != StatusWaiting || meta.roomType != roomType || meta.seats(playerID) {
			continue
		}
		if best == nil || meta.before(bestMeta, id, best.ID) {
			best, bestMeta = m.games[id], meta
		}
	}
	return best
}

// ActiveGameFor returns the oldest WAITING or IN_PROGRESS game seating
// playerID. The service keeps at most one such game per player.
func (m *Manager) ActiveGameFor(playerID string) *Game {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Game
	var bestMeta gameMeta
	for id, meta := range m.index {
		if meta.status == StatusFinished || !meta.seats(playerID) {
			continue
		}
		if best == nil || meta.before(bestMeta, id, best.ID) {
			best, bestMeta = m.games[id], meta
		}
	}
	return best
}

// Delete removes a game from memory and persistence
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, inMemory := m.games[id]
	delete(m.games, id)
	delete(m.index, id)
	m.mu.Unlock()

	if m.persistence != nil && m.persistence.Exists(id) {
		if err := m.persistence.Delete(id); err != nil {
			return fmt.Errorf("failed to delete persisted game: %w", err)
		}
		return nil
	}

	if !inMemory {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteFromMemory removes a game from memory only (not from persistence)
func (m *Manager) DeleteFromMemory(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.games[id]; !exists {
		return ErrSessionNotFound
	}
	delete(m.games, id)
	delete(m.index, id)
	return nil
}

// Save refreshes the index entry of game and writes it through to
// persistence. The caller holds the game's lock.
func (m *Manager) Save(game *Game) error {
	meta := metaOf(game)
	m.mu.Lock()
	if _, live := m.games[game.ID]; live {
		m.index[game.ID] = meta
	}
	m.mu.Unlock()

	if m.persistence == nil {
		return nil // No persistence configured
	}
	if err := m.persistence.Save(game); err != nil {
		m.logger.Warn("failed to persist game", zap.String("game_id", game.ID), zap.Error(err))
		return err
	}
	return nil
}

// CleanupFinished drops FINISHED games last updated before now-maxAge from
// memory.
func (m *Manager) CleanupFinished(now time.Time, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-maxAge)
	removed := 0
	for id, meta := range m.index {
		if meta.status == StatusFinished && meta.updatedAt.Before(cutoff) {
			delete(m.games, id)
			delete(m.index, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live games
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

// LoadPersistedSessions loads every persisted game that is not finished and
// returns the loaded games.
func (m *Manager) LoadPersistedSessions() ([]*Game, error) {
	if m.persistence == nil {
		return nil, nil // No persistence configured
	}

	ids, err := m.persistence.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list persisted games: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var loaded []*Game
	for _, id := range ids {
		if _, exists := m.games[id]; exists {
			continue
		}

		game, err := m.persistence.Load(id)
		if err != nil {
			m.logger.Warn("failed to load persisted game", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if !game.Active() {
			continue
		}

		m.games[id] = game
		m.index[id] = metaOf(game)
		loaded = append(loaded, game)
	}

	if len(loaded) > 0 {
		m.logger.Info("loaded persisted games", zap.Int("count", len(loaded)))
	}
	return loaded, nil
}

// Close releases the persistence backend if it holds resources.
func (m *Manager) Close() error {
	if c, ok := m.persistence.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) persist(game *Game) {
	_ = m.Save(game)
}

// gameMeta is the lock-free view of a game used by lookups.
type gameMeta struct {
	status    Status
	roomType  string
	players   []string
	createdAt time.Time
	updatedAt time.Time
}

func metaOf(g *Game) gameMeta {
	return gameMeta{
		status:    g.Status,
		roomType:  g.RoomType,
		players:   g.PlayerIDs(),
		createdAt: g.CreatedAt,
		updatedAt: g.UpdatedAt,
	}
}

func (gm gameMeta) seats(playerID string) bool {
	for _, p := range gm.players {
		if p == playerID {
			return true
		}
	}
	return false
}

func (gm gameMeta) before(other gameMeta, id, otherID string) bool {
	if gm.createdAt.Equal(other.createdAt) {
		return id < otherID
	}
	return gm.createdAt.Before(other.createdAt)
}
