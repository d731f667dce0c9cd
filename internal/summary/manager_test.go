package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillworks/quill/internal/repo"
)

// fakeCompleter returns a minimal valid summary and counts calls.
type fakeCompleter struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, kind, system, user, schemaName string, schema json.RawMessage) ([]byte, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, fmt.Errorf("model unavailable")
	}
	switch schemaName {
	case "project_summary":
		return []byte(`{"v":1,"f":"","h":"","ex":["Thing"],"u":["use Thing"],"r":[]}`), nil
	default:
		return []byte(`{"v":1,"p":"","b":"","l":"go","lc":1,"sz":10,"ex":["A"],"im":[],"fx":["A"],"cl":[],"io":[],"cfg":[],"r":[],"sm":["all"]}`), nil
	}
}

func newTestManager(t *testing.T) (*Manager, *repo.FS, *fakeCompleter) {
	t.Helper()
	fs, err := repo.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	fake := &fakeCompleter{}
	return NewManager(fs, fake, 0), fs, fake
}

func TestManager_SummarizeWritesColocated(t *testing.T) {
	m, fs, fake := newTestManager(t)
	fs.Write("pkg/a.go", "package a\n")

	s, err := m.Summarize(context.Background(), "pkg/a.go", "package a\n")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	var got fileSummary
	if err := json.Unmarshal([]byte(s), &got); err != nil {
		t.Fatalf("summary not JSON: %v", err)
	}
	if got.Path != "pkg/a.go" || got.Digest != Digest("package a\n") {
		t.Errorf("summary identity = %+v", got)
	}

	stored, err := fs.Load("pkg/" + repo.MetaDirName + "/a.go.json")
	if err != nil {
		t.Fatalf("colocated summary missing: %v", err)
	}
	if stored == "" {
		t.Error("colocated summary empty")
	}
	if fake.calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1", fake.calls.Load())
	}
}

func TestManager_SummarizeReusesMatchingDigest(t *testing.T) {
	m, fs, fake := newTestManager(t)
	fs.Write("a.go", "package a\n")

	if _, err := m.Summarize(context.Background(), "a.go", "package a\n"); err != nil {
		t.Fatalf("first Summarize: %v", err)
	}
	if _, err := m.Summarize(context.Background(), "a.go", "package a\n"); err != nil {
		t.Fatalf("second Summarize: %v", err)
	}
	if fake.calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1 (digest unchanged)", fake.calls.Load())
	}

	// Changed contents regenerate.
	if _, err := m.Summarize(context.Background(), "a.go", "package a // edited\n"); err != nil {
		t.Fatalf("third Summarize: %v", err)
	}
	if fake.calls.Load() != 2 {
		t.Errorf("model calls = %d, want 2 after edit", fake.calls.Load())
	}
}

func TestManager_OversizedFileSkipped(t *testing.T) {
	fs, _ := repo.NewFS(t.TempDir())
	fake := &fakeCompleter{}
	m := NewManager(fs, fake, 10)

	if _, err := m.Summarize(context.Background(), "big.txt", "0123456789abcdef"); err == nil {
		t.Error("oversized file summarized, want skip error")
	}
	if fake.calls.Load() != 0 {
		t.Errorf("model called for oversized file")
	}
}

func TestManager_Stale(t *testing.T) {
	m, fs, _ := newTestManager(t)
	fs.Write("a.go", "package a\n")

	if !m.Stale("a.go") {
		t.Error("file without summary not reported stale")
	}
	m.Summarize(context.Background(), "a.go", "package a\n")
	if m.Stale("a.go") {
		t.Error("fresh summary reported stale")
	}
	fs.Write("a.go", "package a // edited\n")
	if !m.Stale("a.go") {
		t.Error("edited file not reported stale")
	}
}

func TestManager_RefreshSkipsFailures(t *testing.T) {
	m, fs, fake := newTestManager(t)
	fs.Write("a.go", "package a\n")
	fs.Write("b.go", "package b\n")
	fake.fail = true

	// Model failures are skipped, not fatal.
	if err := m.Refresh(context.Background(), []string{"a.go", "b.go", "missing.go"}); err != nil {
		t.Errorf("Refresh: %v", err)
	}
}

func TestDeps_EnsureAllAndServe(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "libfoo.md"), []byte("foo exports Thing"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644)
	fake := &fakeCompleter{}
	d := NewDeps(dir, fake, 0)

	names, err := d.ProjectNames()
	if err != nil {
		t.Fatalf("ProjectNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"libfoo.md"}) {
		t.Errorf("names = %v", names)
	}

	if err := d.EnsureAll(context.Background()); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	if fake.calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1", fake.calls.Load())
	}

	s, err := d.ProjectSummary("libfoo.md")
	if err != nil {
		t.Fatalf("ProjectSummary: %v", err)
	}
	var ps projectSummary
	if err := json.Unmarshal([]byte(s), &ps); err != nil {
		t.Fatalf("summary not JSON: %v", err)
	}
	if ps.File != "libfoo.md" || ps.BuiltAt == 0 {
		t.Errorf("summary = %+v", ps)
	}

	// Unchanged description does not regenerate.
	if err := d.EnsureAll(context.Background()); err != nil {
		t.Fatalf("second EnsureAll: %v", err)
	}
	if fake.calls.Load() != 1 {
		t.Errorf("model calls = %d, want 1 (hash unchanged)", fake.calls.Load())
	}
}

func TestDeps_TTLExpiryRegenerates(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "libfoo.md"), []byte("foo"), 0o644)
	fake := &fakeCompleter{}
	d := NewDeps(dir, fake, time.Hour)

	if err := d.EnsureAll(context.Background()); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}

	// Backdate the cached summary past the TTL.
	cached := d.cachePath("libfoo.md")
	data, _ := os.ReadFile(cached)
	var ps projectSummary
	json.Unmarshal(data, &ps)
	ps.BuiltAt = time.Now().Add(-2 * time.Hour).Unix()
	out, _ := json.Marshal(ps)
	os.WriteFile(cached, out, 0o644)

	if err := d.EnsureAll(context.Background()); err != nil {
		t.Fatalf("second EnsureAll: %v", err)
	}
	if fake.calls.Load() != 2 {
		t.Errorf("model calls = %d, want 2 after TTL expiry", fake.calls.Load())
	}
}

func TestDeps_RejectsTraversalNames(t *testing.T) {
	d := NewDeps(t.TempDir(), nil, 0)
	for _, name := range []string{"../secret", ".quill", "a/b"} {
		if _, err := d.ProjectSummary(name); err == nil {
			t.Errorf("ProjectSummary(%q) succeeded, want rejection", name)
		}
	}
}
