// Package state owns the versioned SystemState shared with the external
// transformation step.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quillworks/quill/internal/domain"
)

// Loader reads full file contents for promotion. It is injected so the
// store never touches the filesystem itself.
type Loader func(path string) (string, error)

// Store is the sole owner of SystemState. All mutation goes through its
// bump-yielding operations; readers get deep, version-stamped copies and
// never observe a partially promoted batch.
type Store struct {
	mu      sync.RWMutex
	version int64
	files   map[string]domain.FileStateEntry
}

// NewStore creates an empty store at version 1.
func NewStore() *Store {
	return &Store{
		version: 1,
		files:   make(map[string]domain.FileStateEntry),
	}
}

// GetSnapshot returns a deep, read-only copy of the current SystemState.
func (s *Store) GetSnapshot() domain.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make(map[string]domain.FileStateEntry, len(s.files))
	for p, e := range s.files {
		files[p] = e
	}
	return domain.SystemState{Version: s.version, Files: files}
}

// Version returns the current state version.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// UpsertSummary sets or overwrites the entry for path with a summary body.
// Writing a byte-identical summary over an existing summary entry is an
// idempotent no-op and does not bump the version.
func (s *Store) UpsertSummary(path, summaryBody string) int64 {
	path = domain.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.files[path]; ok && cur.Kind == domain.KindSummary && cur.Body == summaryBody {
		return s.version
	}

	s.files[path] = domain.FileStateEntry{
		Path: path,
		Kind: domain.KindSummary,
		Body: summaryBody,
		Meta: domain.FileMeta{HasSummary: summaryBody != ""},
	}
	s.version++
	return s.version
}

// PromoteToFull loads full contents for every path in the batch and
// upgrades the entries in one atomic step with a single version bump.
// If any path fails to load the whole batch aborts: no entry changes and
// the version is not bumped.
func (s *Store) PromoteToFull(paths map[string]bool, loader Loader) (int64, error) {
	if loader == nil {
		return 0, domain.NewEngineError(domain.ErrLoadFailed.Code, "nil loader")
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, domain.NormalizePath(p))
	}
	sort.Strings(ordered)

	// Load everything before taking the write lock so a slow read does not
	// block concurrent snapshots, and so failure leaves the store untouched.
	loaded := make(map[string]string, len(ordered))
	for _, p := range ordered {
		contents, err := loader(p)
		if err != nil {
			return 0, domain.WrapEngineError(domain.ErrLoadFailed.Code, fmt.Sprintf("promote %s", p), err)
		}
		loaded[p] = contents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for p, contents := range loaded {
		s.files[p] = domain.FileStateEntry{
			Path: p,
			Kind: domain.KindFull,
			Body: contents,
			Meta: domain.FileMeta{
				LineCount: domain.CountLines(contents),
				ByteSize:  len(contents),
			},
		}
	}
	if len(loaded) > 0 {
		s.version++
	}
	return s.version, nil
}

// DemoteToSummary replaces a full entry with a fresh summary, shrinking the
// state's memory footprint after a successful write. Independent bump.
func (s *Store) DemoteToSummary(path, summaryBody string) int64 {
	path = domain.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[path] = domain.FileStateEntry{
		Path: path,
		Kind: domain.KindSummary,
		Body: summaryBody,
		Meta: domain.FileMeta{HasSummary: summaryBody != ""},
	}
	s.version++
	return s.version
}

// Remove drops a path from the state (a delete change was applied).
// No-op without a bump when the path is unknown.
func (s *Store) Remove(path string) int64 {
	path = domain.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[path]; !ok {
		return s.version
	}
	delete(s.files, path)
	s.version++
	return s.version
}

// Has reports whether path is known to the store.
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[domain.NormalizePath(path)]
	return ok
}

// Get returns the entry for path, if known.
func (s *Store) Get(path string) (domain.FileStateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[domain.NormalizePath(path)]
	return e, ok
}
