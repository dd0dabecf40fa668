package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/swarmbot/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the SQLite audit log for agents, task runs, routed messages and
// recurring schedules. The coordinator never reloads task state from it.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the dashboard read while the coordinator writes; the busy
	// timeout makes writers retry instead of returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			role         TEXT NOT NULL,
			agent_type   TEXT NOT NULL,
			template     TEXT,
			capabilities TEXT NOT NULL,
			status       TEXT DEFAULT 'idle',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			removed_at   DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id              TEXT PRIMARY KEY,
			task_type       TEXT NOT NULL,
			description     TEXT,
			priority        INTEGER NOT NULL,
			status          TEXT NOT NULL,
			assigned_agents TEXT,
			result          TEXT,
			error           TEXT,
			retry_count     INTEGER DEFAULT 0,
			created_at      DATETIME NOT NULL,
			completed_at    DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_status ON task_runs(status, completed_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id             TEXT PRIMARY KEY,
			msg_type       TEXT NOT NULL,
			sender_id      TEXT NOT NULL,
			recipient_id   TEXT NOT NULL,
			correlation_id TEXT,
			reply_to       TEXT,
			content        TEXT,
			created_at     DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			name         TEXT PRIMARY KEY,
			schedule     TEXT NOT NULL,
			task_type    TEXT NOT NULL,
			spec         TEXT NOT NULL,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_task_id TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_next_run ON scheduled_tasks(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
