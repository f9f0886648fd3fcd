// Package history persists saved connections and past transfers in SQLite.
// Passwords are sealed before they reach the database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/postalsys/flingr/internal/crypto"
)

// DefaultDBFileName is the SQLite filename under the data directory.
const DefaultDBFileName = "history.db"

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("history: record not found")

	errClosed = errors.New("history: store is closed")
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS connections (
  id              TEXT PRIMARY KEY,
  activation_code TEXT NOT NULL UNIQUE,
  colloquial_name TEXT NOT NULL DEFAULT '',
  local_address   TEXT NOT NULL DEFAULT '',
  local_port      INTEGER NOT NULL DEFAULT 0,
  wan_address     TEXT NOT NULL,
  wan_port        INTEGER NOT NULL,
  user_name       TEXT NOT NULL DEFAULT '',
  password_sealed BLOB,
  created_at      INTEGER NOT NULL,
  updated_at      INTEGER NOT NULL,
  last_used_at    INTEGER
);
`,
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id     TEXT PRIMARY KEY,
  activation_code TEXT NOT NULL,
  file_name       TEXT NOT NULL,
  file_size       INTEGER NOT NULL,
  status          TEXT NOT NULL CHECK(status IN ('succeeded','cancelled','failed')),
  reason          TEXT NOT NULL DEFAULT '',
  endpoint        TEXT NOT NULL DEFAULT '',
  bytes_written   INTEGER NOT NULL DEFAULT 0,
  started_at      INTEGER NOT NULL,
  duration_ms     INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_code_time
ON transfers (activation_code, started_at DESC);
`,
}

// Store owns the history database. It replaces any process-wide connection
// list: callers open one, pass it where needed and close it.
type Store struct {
	db     *sql.DB
	sealer *crypto.Sealer
	now    func() time.Time

	mu        sync.RWMutex
	closeOnce sync.Once
}

// Open opens (or creates) the history database under dataDir and runs
// migrations. It returns the database path.
func Open(dataDir string, sealer *crypto.Sealer) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create history directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath, sealer)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string, sealer *crypto.Sealer) (*Store, error) {
	if sealer == nil {
		return nil, errors.New("history: sealer is required")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db, sealer: sealer, now: time.Now}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

// conn returns the live handle under the read lock. The caller must call
// the returned release func.
func (s *Store) conn() (*sql.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, errClosed
	}
	return s.db, s.mu.RUnlock, nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) nowUnixMilli() int64 {
	return s.now().UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
