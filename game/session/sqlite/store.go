// Package sqlite provides a SQLite-backed game store: persisted games, the
// audit trail and finished-game results.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wricardo/koikoi/game/audit"
	"github.com/wricardo/koikoi/game/session"
	"github.com/wricardo/koikoi/game/session/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// opTimeout bounds the calls made through session.SessionPersistence, which
// carries no context.
const opTimeout = 5 * time.Second

const migrationTable = "schema_migrations"

// Store persists games in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// PlayerStats aggregates a player's finished games.
type PlayerStats struct {
	PlayerID string `json:"player_id"`
	Games    int    `json:"games"`
	Wins     int    `json:"wins"`
	Points   int    `json:"points"`
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite game store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveGame upserts a game. A write carrying an older version than the stored
// row is ignored.
func (s *Store) SaveGame(ctx context.Context, game *session.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if game == nil || strings.TrimSpace(game.ID) == "" {
		return session.ErrInvalidSessionID
	}
	body, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO games (id, room_type, status, version, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   room_type = excluded.room_type,
		   status = excluded.status,
		   version = excluded.version,
		   body = excluded.body,
		   updated_at = excluded.updated_at
		 WHERE excluded.version >= games.version`,
		game.ID,
		game.RoomType,
		string(game.Status),
		game.Version,
		string(body),
		toMillis(game.CreatedAt),
		toMillis(game.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", game.ID, err)
	}
	return nil
}

// LoadGame reads one game.
func (s *Store) LoadGame(ctx context.Context, id string) (*session.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT body FROM games WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}

	var game session.Game
	if err := json.Unmarshal([]byte(body), &game); err != nil {
		return nil, fmt.Errorf("unmarshal game %s: %w", id, err)
	}
	return &game, nil
}

// DeleteGame removes one game.
func (s *Store) DeleteGame(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete game %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// GameIDs lists stored game ids, optionally filtered by status.
func (s *Store) GameIDs(ctx context.Context, statuses ...session.Status) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT id FROM games`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save implements session.SessionPersistence.
func (s *Store) Save(game *session.Game) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.SaveGame(ctx, game)
}

// Load implements session.SessionPersistence.
func (s *Store) Load(id string) (*session.Game, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.LoadGame(ctx, id)
}

// Delete implements session.SessionPersistence.
func (s *Store) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.DeleteGame(ctx, id)
}

// ListAll implements session.SessionPersistence.
func (s *Store) ListAll() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.GameIDs(ctx)
}

// Exists implements session.SessionPersistence.
func (s *Store) Exists(id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, id).Scan(&found)
	return err == nil
}

// WriteAudit implements audit.Writer. Entries are keyed by sequence number,
// so a retried write is harmless.
func (s *Store) WriteAudit(ctx context.Context, e audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_log (seq, recorded_at, game_id, player_id, action, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Seq, toMillis(e.Time), e.GameID, e.PlayerID, e.Action, string(detail),
	)
	if err != nil {
		return fmt.Errorf("write audit %d: %w", e.Seq, err)
	}
	return nil
}

// AuditTrail returns a game's audit entries in sequence order.
func (s *Store) AuditTrail(ctx context.Context, gameID string) ([]audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, recorded_at, game_id, player_id, action, detail
		 FROM audit_log WHERE game_id = ? ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			at     int64
			detail string
		)
		if err := rows.Scan(&e.Seq, &at, &e.GameID, &e.PlayerID, &e.Action, &detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Time = fromMillis(at)
		if detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordResult stores the summary of a finished game.
func (s *Store) RecordResult(ctx context.Context, r session.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO game_results (game_id, room_type, winner_id, reason, rounds, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.GameID, r.RoomType, r.WinnerID, string(r.Reason), r.Rounds, toMillis(r.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert game result: %w", err)
	}
	for _, p := range r.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO player_results (game_id, player_id, player_name, bot, score, won)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.GameID, p.ID, p.Name, boolInt(p.Bot), r.Scores[p.ID], boolInt(p.ID == r.WinnerID),
		); err != nil {
			return fmt.Errorf("insert player result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// Stats aggregates a player's recorded results.
func (s *Store) Stats(ctx context.Context, playerID string) (PlayerStats, error) {
	if err := ctx.Err(); err != nil {
		return PlayerStats{}, err
	}
	stats := PlayerStats{PlayerID: playerID}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(won), 0), COALESCE(SUM(score), 0)
		 FROM player_results WHERE player_id = ?`, playerID,
	).Scan(&stats.Games, &stats.Wins, &stats.Points)
	if err != nil {
		return PlayerStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// applyMigrations executes each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUp(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// extractUp returns the SQL in the -- +migrate Up section.
func extractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}
