package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Settings is the server configuration. Values come from the environment
// (optionally a .env file) and can be overridden by command line flags.
type Settings struct {
	Host        string `env:"KOIKOI_HOST" envDefault:"localhost"`
	Port        int    `env:"KOIKOI_PORT" envDefault:"8080"`
	ConfigDir   string `env:"KOIKOI_CONFIG_DIR" envDefault:"configs/rooms"`
	DefaultRoom string `env:"KOIKOI_DEFAULT_ROOM" envDefault:"STANDARD"`
	Debug       bool   `env:"KOIKOI_DEBUG"`

	// Store selects where games are persisted: memory, file or sqlite.
	Store      string `env:"KOIKOI_STORE" envDefault:"file"`
	DataDir    string `env:"KOIKOI_DATA_DIR" envDefault:"sessions"`
	SQLitePath string `env:"KOIKOI_SQLITE_PATH" envDefault:"koikoi.db"`

	FinishedRetention time.Duration `env:"KOIKOI_FINISHED_RETENTION" envDefault:"1h"`
	SweepInterval     time.Duration `env:"KOIKOI_SWEEP_INTERVAL" envDefault:"5m"`
	AuditBuffer       int           `env:"KOIKOI_AUDIT_BUFFER" envDefault:"1024"`

	// APIURL is the server the mcp command proxies to when one is running.
	APIURL string `env:"KOIKOI_API_URL" envDefault:"http://localhost:8080"`

	OTelEndpoint string `env:"KOIKOI_OTEL_ENDPOINT"`

	NgrokEnabled   bool   `env:"NGROK_ENABLED"`
	NgrokAuthToken string `env:"NGROK_AUTHTOKEN"`
	NgrokDomain    string `env:"NGROK_DOMAIN"`
}

// loadDotEnv loads .env when present. It reports whether a file was loaded.
func loadDotEnv(paths ...string) (bool, error) {
	if err := godotenv.Load(paths...); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("load .env: %w", err)
	}
	return true, nil
}

// LoadSettings parses settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	// Also support the underscore spelling of the ngrok token.
	if s.NgrokAuthToken == "" {
		s.NgrokAuthToken = os.Getenv("NGROK_AUTH_TOKEN")
	}
	s.Store = strings.ToLower(strings.TrimSpace(s.Store))
	return &s, s.Validate()
}

// Validate checks settings that cannot be fixed up silently.
func (s *Settings) Validate() error {
	switch s.Store {
	case StoreMemory, StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q (use memory, file or sqlite)", s.Store)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if s.FinishedRetention < 0 {
		return fmt.Errorf("finished retention must not be negative")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
