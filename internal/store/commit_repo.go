package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quillworks/quill/internal/domain"
)

// CommitRepo handles persistence for the commit log.
type CommitRepo struct{}

// Append records one successful apply.
func (r *CommitRepo) Append(ctx context.Context, db *sql.DB, rec domain.CommitRecord) error {
	paths, err := json.Marshal(rec.Paths)
	if err != nil {
		return fmt.Errorf("encode commit paths: %w", err)
	}
	const q = `INSERT INTO commit_log (id, paths_json, explanation, created_at) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, rec.ID, string(paths), rec.Explanation, rec.CreatedAt); err != nil {
		return fmt.Errorf("append commit: %w", err)
	}
	return nil
}

// ListRecent returns the newest commits, most recent first.
func (r *CommitRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.CommitRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT id, paths_json, explanation, created_at FROM commit_log
ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	var out []domain.CommitRecord
	for rows.Next() {
		var rec domain.CommitRecord
		var paths string
		if err := rows.Scan(&rec.ID, &paths, &rec.Explanation, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if err := json.Unmarshal([]byte(paths), &rec.Paths); err != nil {
			return nil, fmt.Errorf("decode commit paths: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the total number of commits.
func (r *CommitRepo) Count(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}
