package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/quillworks/quill/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueueRepo_SaveAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &QueueRepo{}
	now := time.Now().Unix()

	// No snapshot yet.
	got, err := repo.Load(ctx, db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil before first save, got %q", got)
	}

	if err := repo.Save(ctx, db, []byte(`{"pending_changes":[]}`), now); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// A second save replaces, not duplicates.
	if err := repo.Save(ctx, db, []byte(`{"pending_changes":[{"id":"ch-1"}]}`), now+1); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err = repo.Load(ctx, db)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if string(got) != `{"pending_changes":[{"id":"ch-1"}]}` {
		t.Errorf("Load = %s", got)
	}
}

func TestCommitRepo_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &CommitRepo{}
	now := time.Now().Unix()

	recs := []domain.CommitRecord{
		{ID: "commit-1", Paths: []string{"a.go"}, Explanation: "first", CreatedAt: now},
		{ID: "commit-2", Paths: []string{"b.go", "c.go"}, Explanation: "second", CreatedAt: now + 1},
	}
	for _, rec := range recs {
		if err := repo.Append(ctx, db, rec); err != nil {
			t.Fatalf("Append %s: %v", rec.ID, err)
		}
	}

	got, err := repo.ListRecent(ctx, db, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "commit-2" {
		t.Errorf("newest first: got %s", got[0].ID)
	}
	if !reflect.DeepEqual(got[0].Paths, []string{"b.go", "c.go"}) {
		t.Errorf("paths round trip = %v", got[0].Paths)
	}

	n, err := repo.Count(ctx, db)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestConversationRepo_RecentCapAndArchive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &ConversationRepo{}
	now := time.Now().Unix()

	for i, content := range []string{"one", "two", "three", "four"} {
		msg := domain.Message{Role: "user", Content: content, CreatedAt: now + int64(i)}
		if err := repo.Append(ctx, db, msg); err != nil {
			t.Fatalf("Append %q: %v", content, err)
		}
	}

	// The cap keeps the newest messages, in chronological order.
	got, err := repo.LoadRecent(ctx, db, 2)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("LoadRecent(2) = %+v", got)
	}

	if err := repo.Archive(ctx, db); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, err = repo.LoadRecent(ctx, db, 0)
	if err != nil {
		t.Fatalf("LoadRecent after archive: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("live messages after archive = %d, want 0", len(got))
	}

	// New messages start a fresh conversation.
	repo.Append(ctx, db, domain.Message{Role: "user", Content: "fresh", CreatedAt: now + 10})
	n, err := repo.CountLive(ctx, db)
	if err != nil {
		t.Fatalf("CountLive: %v", err)
	}
	if n != 1 {
		t.Errorf("CountLive = %d, want 1", n)
	}
}

func TestUsageRepo_RecordAndTotals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &UsageRepo{}
	now := time.Now().Unix()

	for _, u := range []domain.Usage{
		{Kind: "apply", PromptTokens: 100, CompletionTokens: 20, CreatedAt: now},
		{Kind: "converse", PromptTokens: 50, CompletionTokens: 10, CreatedAt: now},
	} {
		if err := repo.Record(ctx, db, u); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	prompt, completion, err := repo.Totals(ctx, db)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if prompt != 150 || completion != 30 {
		t.Errorf("Totals = %d/%d, want 150/30", prompt, completion)
	}
}

func TestUsageRepo_EmptyLedger(t *testing.T) {
	db := newTestDB(t)
	prompt, completion, err := (&UsageRepo{}).Totals(context.Background(), db)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if prompt != 0 || completion != 0 {
		t.Errorf("empty ledger totals = %d/%d", prompt, completion)
	}
}

func TestDigestRepo_UpsertGetDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &DigestRepo{}
	now := time.Now().Unix()

	got, err := repo.Get(ctx, db, "a.go")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "" {
		t.Errorf("unknown path digest = %q, want empty", got)
	}

	if err := repo.Upsert(ctx, db, "a.go", "d1", now); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, db, "a.go", "d2", now+1); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _ = repo.Get(ctx, db, "a.go")
	if got != "d2" {
		t.Errorf("digest = %q, want d2", got)
	}

	if err := repo.Delete(ctx, db, "a.go"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ = repo.Get(ctx, db, "a.go")
	if got != "" {
		t.Errorf("digest after delete = %q, want empty", got)
	}
}
