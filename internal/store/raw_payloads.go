package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// ArchivePayload stores a gzip-compressed forecast API response, keyed by the
// SHA-256 of the uncompressed body. Returns the payload
// ID, or 0 if an identical payload was already stored.
func (s *Store) ArchivePayload(ctx context.Context, endpoint string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_payloads (fetched_at, endpoint, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, time.Now().Unix(), endpoint, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, &StorageError{Op: "archive payload", Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload returns the decompressed payload with the given ID, or nil
// if there is none.
func (s *Store) GetRawPayload(ctx context.Context, id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get payload", Err: err}
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// RawPayloadStats summarises the payload archive.
type RawPayloadStats struct {
	TotalCount      int              `json:"total_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
	OldestFetchedAt time.Time        `json:"oldest_fetched_at"`
	NewestFetchedAt time.Time        `json:"newest_fetched_at"`
	CountByEndpoint map[string]int   `json:"count_by_endpoint"`
	SizeByEndpoint  map[string]int64 `json:"size_by_endpoint"`
}

func (s *Store) GetRawPayloadStats(ctx context.Context) (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountByEndpoint: make(map[string]int),
		SizeByEndpoint:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, COUNT(*), SUM(LENGTH(payload_compressed)), MIN(fetched_at), MAX(fetched_at)
		FROM raw_payloads
		GROUP BY endpoint
	`)
	if err != nil {
		return nil, &StorageError{Op: "payload stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			endpoint       string
			count          int
			size           int64
			oldest, newest int64
		)
		if err := rows.Scan(&endpoint, &count, &size, &oldest, &newest); err != nil {
			return nil, &StorageError{Op: "payload stats", Err: err}
		}
		stats.CountByEndpoint[endpoint] = count
		stats.SizeByEndpoint[endpoint] = size
		stats.TotalCount += count
		stats.TotalSizeBytes += size
		if t := time.Unix(oldest, 0).UTC(); stats.OldestFetchedAt.IsZero() || t.Before(stats.OldestFetchedAt) {
			stats.OldestFetchedAt = t
		}
		if t := time.Unix(newest, 0).UTC(); t.After(stats.NewestFetchedAt) {
			stats.NewestFetchedAt = t
		}
	}
	return stats, rows.Err()
}

// PruneRawPayloads deletes payloads older than retentionDays and returns how
// many were removed.
func (s *Store) PruneRawPayloads(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
	`, time.Now().AddDate(0, 0, -retentionDays).Unix())
	if err != nil {
		return 0, &StorageError{Op: "prune payloads", Err: err}
	}
	return result.RowsAffected()
}
