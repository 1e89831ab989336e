package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrConfigNotFound = errors.New("room configuration not found")
	ErrInvalidConfig  = errors.New("invalid room configuration")
)

// Manager handles room configuration loading and caching. The built-in rooms
// are always available; JSON files in the config directory add rooms or
// override built-ins with the same id.
type Manager struct {
	configDir     string
	defaultConfig *RoomConfig
	configs       map[string]*RoomConfig
	mu            sync.RWMutex
}

// NewManager creates a new configuration manager. An empty configDir serves
// the built-in rooms only.
func NewManager(configDir string) (*Manager, error) {
	if configDir != "" {
		if _, err := os.Stat(configDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("config directory does not exist: %s", configDir)
		}
	}

	m := &Manager{
		configDir: configDir,
		configs:   make(map[string]*RoomConfig),
	}

	if err := m.loadDefaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	return m, nil
}

// LoadConfig loads a room by id. Ids are case-insensitive and may carry a
// .json extension.
func (m *Manager) LoadConfig(name string) (*RoomConfig, error) {
	id := normalizeID(name)
	if id == "" {
		return nil, ErrConfigNotFound
	}

	m.mu.RLock()
	if config, exists := m.configs[id]; exists {
		m.mu.RUnlock()
		return config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if config, exists := m.configs[id]; exists {
		return config, nil
	}

	config, err := m.readFile(id)
	if errors.Is(err, ErrConfigNotFound) {
		config = builtin(id)
		if config == nil {
			return nil, ErrConfigNotFound
		}
	} else if err != nil {
		return nil, err
	}

	m.configs[id] = config
	return config, nil
}

// ListConfigs returns information about all available rooms, sorted by id.
func (m *Manager) ListConfigs() ([]*RoomInfo, error) {
	ids := map[string]string{}
	for _, c := range Builtin() {
		ids[c.ID] = ""
	}

	if m.configDir != "" {
		entries, err := os.ReadDir(m.configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read config directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			ids[normalizeID(entry.Name())] = entry.Name()
		}
	}

	var rooms []*RoomInfo
	for id, filename := range ids {
		config, err := m.LoadConfig(id)
		if err != nil {
			// Skip invalid configs
			continue
		}
		rooms = append(rooms, &RoomInfo{
			Filename:    filename,
			ID:          config.ID,
			Name:        config.Name,
			Description: config.Description,
			Rounds:      config.Rounds,
			BotFallback: config.BotFallback,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	return rooms, nil
}

// GetDefault returns the default room
func (m *Manager) GetDefault() *RoomConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig
}

// SetDefault sets the default room by id
func (m *Manager) SetDefault(name string) error {
	config, err := m.LoadConfig(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultConfig = config
	return nil
}

// RefreshCache drops cached rooms so the next load rereads the files.
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.configs = make(map[string]*RoomConfig)
	m.mu.Unlock()

	return m.loadDefaultConfig()
}

// SaveConfig validates config and writes it to the config directory.
func (m *Manager) SaveConfig(config *RoomConfig) error {
	if m.configDir == "" {
		return fmt.Errorf("no config directory configured")
	}
	config.ID = normalizeID(config.ID)
	if err := ValidateRoomConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := filepath.Join(m.configDir, strings.ToLower(config.ID)+".json")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.configs[config.ID] = config
	m.mu.Unlock()

	return nil
}

// readFile loads <id>.json (lowercase) from the config directory.
func (m *Manager) readFile(id string) (*RoomConfig, error) {
	if m.configDir == "" {
		return nil, ErrConfigNotFound
	}

	configPath := filepath.Join(m.configDir, strings.ToLower(id)+".json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config RoomConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.ID == "" {
		config.ID = id
	}
	config.ID = normalizeID(config.ID)

	if err := ValidateRoomConfig(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &config, nil
}

// loadDefaultConfig makes STANDARD the default room.
func (m *Manager) loadDefaultConfig() error {
	config, err := m.LoadConfig(RoomStandard)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.defaultConfig = config
	m.mu.Unlock()
	return nil
}

func builtin(id string) *RoomConfig {
	for _, c := range Builtin() {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func normalizeID(name string) string {
	return strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(name), ".json"))
}
