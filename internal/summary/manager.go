// Package summary maintains the compact machine-oriented file digests
// that stand in for full file contents between applies. Summaries are
// colocated with their files under a .quill directory and regenerated
// whenever the content digest changes.
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/repo"
)

// DefaultMaxBytes is the largest file the summarizer will send to the
// model; bigger files keep a head-of-file placeholder instead.
const DefaultMaxBytes = 2 << 20

const cacheSize = 256

// refreshWorkers bounds the summary fan-out per refresh pass.
const refreshWorkers = 4

// Completer is the slice of the model client the summarizer needs.
type Completer interface {
	CompleteJSON(ctx context.Context, kind, system, user, schemaName string, schema json.RawMessage) ([]byte, error)
}

// fileSummary mirrors the compact on-disk summary schema. Single-letter
// keys keep the token footprint down when summaries are fed back to the
// model.
type fileSummary struct {
	V            int      `json:"v"`
	Path         string   `json:"p"`
	Digest       string   `json:"b"`
	Language     string   `json:"l"`
	LineCount    int      `json:"lc"`
	ByteSize     int      `json:"sz"`
	Exports      []string `json:"ex"`
	Imports      []string `json:"im"`
	Functions    []string `json:"fx"`
	Classes      []string `json:"cl"`
	SideEffects  []string `json:"io"`
	Config       []string `json:"cfg"`
	Risks        []string `json:"r"`
	SafeToModify []string `json:"sm"`
}

// Manager generates, caches and serves per-file summaries.
type Manager struct {
	fs       *repo.FS
	model    Completer
	cache    *lru.Cache[string, string]
	maxBytes int
}

// NewManager builds a summary manager. model may be nil, in which case
// summaries are served from disk only and never regenerated.
func NewManager(fs *repo.FS, model Completer, maxBytes int) *Manager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	cache, _ := lru.New[string, string](cacheSize)
	return &Manager{fs: fs, model: model, cache: cache, maxBytes: maxBytes}
}

// summaryPath maps a/b/c.ext to a/b/.quill/c.ext.json.
func summaryPath(rel string) string {
	dir, base := path.Split(rel)
	return dir + repo.MetaDirName + "/" + base + ".json"
}

// Digest returns the hex sha256 of contents.
func Digest(contents string) string {
	sum := sha256.Sum256([]byte(contents))
	return hex.EncodeToString(sum[:])
}

// Summarize produces the compact summary of one file, generating it via
// the model when the cached copy does not match the content digest.
func (m *Manager) Summarize(ctx context.Context, rel, contents string) (string, error) {
	digest := Digest(contents)
	if s, ok := m.cache.Get(digest); ok {
		return s, nil
	}
	if stored, err := m.fs.Load(summaryPath(rel)); err == nil {
		var fs fileSummary
		if json.Unmarshal([]byte(stored), &fs) == nil && fs.Digest == digest {
			m.cache.Add(digest, stored)
			return stored, nil
		}
	}
	if len(contents) > m.maxBytes {
		return "", fmt.Errorf("%s exceeds the summary byte cap (%d bytes)", rel, m.maxBytes)
	}
	if m.model == nil {
		return "", domain.NewEngineError(domain.ErrModelCall.Code, "no model configured for summaries")
	}

	user, err := json.Marshal(map[string]any{
		"info": map[string]any{
			"path":       rel,
			"language":   guessLanguage(rel),
			"line_count": domain.CountLines(contents),
			"size_bytes": len(contents),
			"sha256":     digest,
		},
		"content": contents,
	})
	if err != nil {
		return "", err
	}
	raw, err := m.model.CompleteJSON(ctx, "summary", fileSummarySystemPrompt, string(user), "file_summary", fileSummarySchema)
	if err != nil {
		return "", err
	}

	var fs fileSummary
	if err := json.Unmarshal(raw, &fs); err != nil {
		return "", domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "file summary payload", err)
	}
	fs.V = 1
	fs.Path = rel
	fs.Digest = digest
	out, err := json.Marshal(fs)
	if err != nil {
		return "", err
	}

	if err := m.fs.Write(summaryPath(rel), string(out)+"\n"); err != nil {
		return "", err
	}
	m.cache.Add(digest, string(out))
	return string(out), nil
}

// FileSummary serves the stored summary of a file, for the tool surface.
func (m *Manager) FileSummary(rel string) (string, error) {
	s, err := m.fs.Load(summaryPath(rel))
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrNotFound.Code,
			fmt.Sprintf("no summary available for %s", rel), err)
	}
	return s, nil
}

// Stale reports whether the stored summary no longer matches the file.
func (m *Manager) Stale(rel string) bool {
	contents, err := m.fs.Load(rel)
	if err != nil {
		return false
	}
	stored, err := m.fs.Load(summaryPath(rel))
	if err != nil {
		return true
	}
	var fs fileSummary
	if json.Unmarshal([]byte(stored), &fs) != nil {
		return true
	}
	return fs.Digest != Digest(contents)
}

// Refresh regenerates summaries for the given paths with a bounded
// fan-out. Unreadable and oversized files are skipped, not fatal.
func (m *Manager) Refresh(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshWorkers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			contents, err := m.fs.Load(p)
			if err != nil {
				return nil
			}
			if len(contents) > m.maxBytes {
				return nil
			}
			if _, err := m.Summarize(gctx, p, contents); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// RefreshAll refreshes every file in the repository.
func (m *Manager) RefreshAll(ctx context.Context) error {
	paths, err := m.fs.List()
	if err != nil {
		return err
	}
	return m.Refresh(ctx, paths)
}

func guessLanguage(rel string) string {
	switch path.Ext(rel) {
	case ".go":
		return "go"
	case ".py":
		return "py"
	case ".ts":
		return "ts"
	case ".tsx":
		return "tsx"
	case ".js":
		return "js"
	case ".jsx":
		return "jsx"
	case ".sh", ".bash", ".zsh":
		return "sh"
	default:
		return "txt"
	}
}

const fileSummarySystemPrompt = `You are a file summarizer. Produce a highly
compressed, machine-oriented summary JSON for a single file. Minimize tokens
and be lossless for downstream planning. Do NOT include code; summarize
structure, symbols, imports, configs, side effects, risks, and safe-to-modify
notes. Use the strict JSON schema provided.`

var fileSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"v": {"type": "integer"},
		"p": {"type": "string"},
		"b": {"type": "string"},
		"l": {"type": "string"},
		"lc": {"type": "integer"},
		"sz": {"type": "integer"},
		"ex": {"type": "array", "items": {"type": "string"}},
		"im": {"type": "array", "items": {"type": "string"}},
		"fx": {"type": "array", "items": {"type": "string"}},
		"cl": {"type": "array", "items": {"type": "string"}},
		"io": {"type": "array", "items": {"type": "string"}},
		"cfg": {"type": "array", "items": {"type": "string"}},
		"r": {"type": "array", "items": {"type": "string"}},
		"sm": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["v", "p", "b", "l", "lc", "sz", "ex", "im", "fx", "cl", "io", "cfg", "r", "sm"],
	"additionalProperties": false
}`)
