package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DigestRepo tracks the last written content digest per path, used to
// tell whether a file changed underneath the engine between applies.
type DigestRepo struct{}

// Upsert records the digest of a freshly written path.
func (r *DigestRepo) Upsert(ctx context.Context, db *sql.DB, path, digest string, now int64) error {
	const q = `INSERT INTO path_digests (path, digest, updated_at) VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET digest = excluded.digest, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, q, path, digest, now); err != nil {
		return fmt.Errorf("upsert digest: %w", err)
	}
	return nil
}

// Get returns the stored digest for a path, or "" when unknown.
func (r *DigestRepo) Get(ctx context.Context, db *sql.DB, path string) (string, error) {
	var digest string
	err := db.QueryRowContext(ctx, `SELECT digest FROM path_digests WHERE path = ?`, path).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get digest: %w", err)
	}
	return digest, nil
}

// Delete forgets a path, after it was deleted from the repository.
func (r *DigestRepo) Delete(ctx context.Context, db *sql.DB, path string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM path_digests WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete digest: %w", err)
	}
	return nil
}
