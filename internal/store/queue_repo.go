package store

import (
	"context"
	"database/sql"
	"fmt"
)

// QueueRepo persists the serialized pending-change queue as a single-row
// snapshot.
type QueueRepo struct{}

// Save replaces the stored queue snapshot.
func (r *QueueRepo) Save(ctx context.Context, db *sql.DB, payload []byte, now int64) error {
	const q = `INSERT INTO queue_snapshot (id, payload_json, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, q, string(payload), now); err != nil {
		return fmt.Errorf("save queue snapshot: %w", err)
	}
	return nil
}

// Load returns the stored queue snapshot, or nil if none was ever saved.
func (r *QueueRepo) Load(ctx context.Context, db *sql.DB) ([]byte, error) {
	const q = `SELECT payload_json FROM queue_snapshot WHERE id = 1`
	var payload string
	err := db.QueryRowContext(ctx, q).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	return []byte(payload), nil
}
