package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quillworks/quill/internal/domain"
)

// UsageRepo handles persistence for the token usage ledger.
type UsageRepo struct{}

// Record stores one model call's token counts.
func (r *UsageRepo) Record(ctx context.Context, db *sql.DB, u domain.Usage) error {
	const q = `INSERT INTO usage_ledger (kind, prompt_tokens, completion_tokens, created_at)
VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, u.Kind, u.PromptTokens, u.CompletionTokens, u.CreatedAt); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Totals sums the ledger.
func (r *UsageRepo) Totals(ctx context.Context, db *sql.DB) (prompt, completion int64, err error) {
	const q = `SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0) FROM usage_ledger`
	if err = db.QueryRowContext(ctx, q).Scan(&prompt, &completion); err != nil {
		return 0, 0, fmt.Errorf("sum usage: %w", err)
	}
	return prompt, completion, nil
}
