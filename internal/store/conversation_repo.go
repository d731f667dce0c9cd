package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quillworks/quill/internal/domain"
)

// ConversationRepo handles persistence for the chat history. A successful
// apply archives the live conversation instead of deleting it.
type ConversationRepo struct{}

// Append stores one message at the end of the live conversation.
func (r *ConversationRepo) Append(ctx context.Context, db *sql.DB, msg domain.Message) error {
	const q = `INSERT INTO conversation (role, content, tool_call_id, tool_calls, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q, msg.Role, msg.Content, msg.ToolCallID, msg.ToolCalls, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// LoadRecent returns the last limit live messages in chronological order.
// limit <= 0 loads everything live.
func (r *ConversationRepo) LoadRecent(ctx context.Context, db *sql.DB, limit int) ([]domain.Message, error) {
	q := `SELECT role, content, tool_call_id, tool_calls, created_at
FROM conversation WHERE archived = 0 ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var newestFirst []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolCallID, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, nil
}

// Archive marks every live message archived, starting a fresh
// conversation.
func (r *ConversationRepo) Archive(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `UPDATE conversation SET archived = 1 WHERE archived = 0`); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return nil
}

// CountLive returns the number of live messages.
func (r *ConversationRepo) CountLive(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation WHERE archived = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversation: %w", err)
	}
	return n, nil
}
