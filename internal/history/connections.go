package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postalsys/flingr/internal/connection"
)

// Entry is a saved connection with bookkeeping.
type Entry struct {
	ID         string
	Connection connection.Connection
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

const connectionColumns = `
	id,
	activation_code,
	colloquial_name,
	local_address,
	local_port,
	wan_address,
	wan_port,
	user_name,
	password_sealed,
	created_at,
	updated_at,
	last_used_at`

// Save inserts conn, or replaces the saved connection with the same
// activation code. Only valid connections are stored.
func (s *Store) Save(conn connection.Connection) (*Entry, error) {
	conn.ActivationCode = strings.TrimSpace(conn.ActivationCode)
	if !conn.IsValid() {
		return nil, fmt.Errorf("save connection %q: connection is not valid", conn.ActivationCode)
	}

	sealed, err := s.sealer.SealString(conn.UserPassword)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}

	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.nowUnixMilli()
	_, err = db.Exec(
		`INSERT INTO connections (
			id,
			activation_code,
			colloquial_name,
			local_address,
			local_port,
			wan_address,
			wan_port,
			user_name,
			password_sealed,
			created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(activation_code) DO UPDATE SET
			colloquial_name = excluded.colloquial_name,
			local_address   = excluded.local_address,
			local_port      = excluded.local_port,
			wan_address     = excluded.wan_address,
			wan_port        = excluded.wan_port,
			user_name       = excluded.user_name,
			password_sealed = excluded.password_sealed,
			updated_at      = excluded.updated_at`,
		uuid.NewString(),
		conn.ActivationCode,
		conn.ColloquialName,
		conn.LocalAddress,
		conn.LocalPort,
		conn.WANAddress,
		conn.WANPort,
		conn.UserName,
		sealed,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("save connection %q: %w", conn.ActivationCode, err)
	}

	return s.get(db, conn.ActivationCode)
}

// Get returns the saved connection for an activation code.
func (s *Store) Get(code string) (*Entry, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	return s.get(db, strings.TrimSpace(code))
}

func (s *Store) get(db *sql.DB, code string) (*Entry, error) {
	row := db.QueryRow(`SELECT`+connectionColumns+`
		FROM connections
		WHERE activation_code = ?`,
		code,
	)

	entry, err := s.scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection %q: %w", code, err)
	}
	return entry, nil
}

// List returns all saved connections, most recently used first, then by name.
func (s *Store) List() ([]Entry, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.Query(`SELECT` + connectionColumns + `
		FROM connections
		ORDER BY COALESCE(last_used_at, 0) DESC, colloquial_name, activation_code`,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return entries, nil
}

// MarkUsed records that the connection was just used for a transfer.
func (s *Store) MarkUsed(code string) error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	res, err := db.Exec(
		`UPDATE connections SET last_used_at = ? WHERE activation_code = ?`,
		s.nowUnixMilli(), strings.TrimSpace(code),
	)
	if err != nil {
		return fmt.Errorf("mark connection %q used: %w", code, err)
	}
	return requireAffected(res)
}

// Remove deletes the saved connection for an activation code.
func (s *Store) Remove(code string) error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	res, err := db.Exec(`DELETE FROM connections WHERE activation_code = ?`, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("remove connection %q: %w", code, err)
	}
	return requireAffected(res)
}

// Clear deletes every saved connection and transfer record.
func (s *Store) Clear() error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"transfers", "connections"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry     Entry
		c         connection.Connection
		sealed    []byte
		createdAt int64
		updatedAt int64
		lastUsed  sql.NullInt64
	)
	if err := row.Scan(
		&entry.ID,
		&c.ActivationCode,
		&c.ColloquialName,
		&c.LocalAddress,
		&c.LocalPort,
		&c.WANAddress,
		&c.WANPort,
		&c.UserName,
		&sealed,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		return nil, err
	}

	password, err := s.sealer.OpenString(sealed)
	if err != nil {
		return nil, fmt.Errorf("open password for %q: %w", c.ActivationCode, err)
	}
	c.UserPassword = password

	entry.Connection = c
	entry.CreatedAt = fromUnixMilli(createdAt)
	entry.UpdatedAt = fromUnixMilli(updatedAt)
	if lastUsed.Valid {
		t := fromUnixMilli(lastUsed.Int64)
		entry.LastUsedAt = &t
	}
	return &entry, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
