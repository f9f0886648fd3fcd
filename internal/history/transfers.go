package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/postalsys/flingr/internal/transfer"
)

// TransferRecord is one finished Send.
type TransferRecord struct {
	TransferID     string
	ActivationCode string
	FileName       string
	FileSize       int64
	Status         string
	Reason         string
	Endpoint       string
	BytesWritten   int64
	StartedAt      time.Time
	Duration       time.Duration
}

// RecordFromOutcome builds a TransferRecord for a finished transfer.
func RecordFromOutcome(code, fileName string, size int64, out transfer.Outcome, started time.Time) TransferRecord {
	return TransferRecord{
		TransferID:     out.TransferID,
		ActivationCode: strings.TrimSpace(code),
		FileName:       fileName,
		FileSize:       size,
		Status:         out.Status.String(),
		Reason:         string(out.Reason),
		Endpoint:       out.Endpoint,
		BytesWritten:   out.Bytes,
		StartedAt:      started,
		Duration:       out.Duration,
	}
}

// RecordTransfer stores a finished transfer.
func (s *Store) RecordTransfer(rec TransferRecord) error {
	if rec.TransferID == "" {
		return fmt.Errorf("record transfer: transfer_id is required")
	}
	if rec.ActivationCode == "" {
		return fmt.Errorf("record transfer: activation_code is required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}

	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			activation_code,
			file_name,
			file_size,
			status,
			reason,
			endpoint,
			bytes_written,
			started_at,
			duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TransferID,
		rec.ActivationCode,
		rec.FileName,
		rec.FileSize,
		rec.Status,
		rec.Reason,
		rec.Endpoint,
		rec.BytesWritten,
		rec.StartedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert transfer %q: %w", rec.TransferID, err)
	}
	return nil
}

// ListTransfers returns recorded transfers newest first. An empty code
// lists all codes; limit <= 0 means no limit.
func (s *Store) ListTransfers(code string, limit int) ([]TransferRecord, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT
			transfer_id,
			activation_code,
			file_name,
			file_size,
			status,
			reason,
			endpoint,
			bytes_written,
			started_at,
			duration_ms
		FROM transfers`
	var args []any
	if code = strings.TrimSpace(code); code != "" {
		query += ` WHERE activation_code = ?`
		args = append(args, code)
	}
	query += ` ORDER BY started_at DESC, transfer_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	records := make([]TransferRecord, 0)
	for rows.Next() {
		var (
			rec        TransferRecord
			startedAt  int64
			durationMs int64
		)
		if err := rows.Scan(
			&rec.TransferID,
			&rec.ActivationCode,
			&rec.FileName,
			&rec.FileSize,
			&rec.Status,
			&rec.Reason,
			&rec.Endpoint,
			&rec.BytesWritten,
			&startedAt,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		rec.StartedAt = fromUnixMilli(startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return records, nil
}
