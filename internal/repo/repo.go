// Package repo is the repository read/write collaborator: filesystem
// access locked to a single root directory.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/quillworks/quill/internal/domain"
)

// MetaDirName is the colocated directory holding Quill's own files
// (summaries, the state database). It is excluded from listings.
const MetaDirName = ".quill"

// FS reads and writes files relative to a fixed repository root.
// Paths that resolve outside the root are rejected.
type FS struct {
	absRoot string
	ignore  gitignore.Matcher
}

// NewFS locks all future operations to the given root directory.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code, "empty repository root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code, "repository root is not a directory")
	}
	return &FS{absRoot: abs, ignore: loadIgnore(abs)}, nil
}

// loadIgnore parses the root .gitignore so listings only see what git
// would track. A missing or unreadable file ignores nothing.
func loadIgnore(absRoot string) gitignore.Matcher {
	data, err := os.ReadFile(filepath.Join(absRoot, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	if len(patterns) == 0 {
		return nil
	}
	return gitignore.NewMatcher(patterns)
}

func (f *FS) ignored(rel string, isDir bool) bool {
	if f.ignore == nil || rel == "." {
		return false
	}
	return f.ignore.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// Root returns the absolute repository root.
func (f *FS) Root() string { return f.absRoot }

// resolve maps a repository-relative path to an absolute one, rejecting
// traversal outside the root.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return "", domain.NewEngineError(domain.ErrPathEscapesRoot.Code, "empty path")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", domain.WrapEngineError(domain.ErrPathEscapesRoot.Code, rel, nil)
	}
	return filepath.Join(f.absRoot, clean), nil
}

// Load reads the full contents of a file.
func (f *FS) Load(rel string) (string, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.WrapEngineError(domain.ErrNotFound.Code, rel, err)
		}
		return "", err
	}
	return string(data), nil
}

// Exists reports whether a file exists under the root.
func (f *FS) Exists(rel string) bool {
	abs, err := f.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Write writes contents to a file, creating parent directories as needed.
func (f *FS) Write(rel, contents string) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return domain.WrapEngineError(domain.ErrWriteFailed.Code, rel, err)
	}
	if err := os.WriteFile(abs, []byte(contents), 0o644); err != nil {
		return domain.WrapEngineError(domain.ErrWriteFailed.Code, rel, err)
	}
	return nil
}

// Remove deletes a file. Missing files are not an error.
func (f *FS) Remove(rel string) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return domain.WrapEngineError(domain.ErrWriteFailed.Code, rel, err)
	}
	return nil
}

// List walks the repository and returns sorted relative paths, skipping
// .git and .quill directories, gitignored paths, and Quill's own
// metadata files.
func (f *FS) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(f.absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.absRoot, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", MetaDirName:
				return filepath.SkipDir
			}
			if f.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if f.ignored(rel, false) {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Glob returns the listed paths matching pattern (path.Match semantics on
// the slash form; empty pattern matches everything).
func (f *FS) Glob(pattern string) ([]string, error) {
	all, err := f.List()
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return all, nil
	}
	var out []string
	for _, p := range all {
		ok, err := filepath.Match(pattern, p)
		if err != nil {
			return nil, err
		}
		if ok || matchBase(pattern, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// matchBase also matches the pattern against the file's base name so
// "*.go" finds files in subdirectories.
func matchBase(pattern, p string) bool {
	if strings.ContainsRune(pattern, '/') {
		return false
	}
	ok, err := filepath.Match(pattern, filepath.Base(p))
	return err == nil && ok
}

// Search scans all files for a case-insensitive substring and returns the
// matching paths, capped at max results.
func (f *FS) Search(query string, max int) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	if max <= 0 {
		max = 100
	}
	all, err := f.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	var matches []string
	for _, p := range all {
		contents, err := f.Load(p)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(contents), needle) {
			matches = append(matches, p)
			if len(matches) >= max {
				break
			}
		}
	}
	return matches, nil
}

// Snippet returns the 1-based inclusive line range of a file.
func (f *FS) Snippet(rel string, startLine, endLine int) (string, error) {
	contents, err := f.Load(rel)
	if err != nil {
		return "", err
	}
	lines := strings.Split(contents, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine {
		endLine = startLine
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return "", nil
	}
	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}

// Digest returns the hex sha256 of a file's contents.
func (f *FS) Digest(rel string) (string, error) {
	contents, err := f.Load(rel)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(contents))
	return hex.EncodeToString(sum[:]), nil
}

// Size returns a file's size in bytes.
func (f *FS) Size(rel string) (int64, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
