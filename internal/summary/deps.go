package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/repo"
)

// Deps maintains summaries for a flat directory of external project
// descriptions. Each description file <name> gets a cached summary at
// <dir>/.quill/<name>.json, regenerated on digest mismatch or TTL expiry.
type Deps struct {
	root  string
	model Completer
	ttl   time.Duration
}

// projectSummary is the cached on-disk shape.
type projectSummary struct {
	V       int      `json:"v"`
	File    string   `json:"f"`
	Hash    string   `json:"h"`
	Exports []string `json:"ex"`
	Usage   []string `json:"u"`
	Risks   []string `json:"r"`
	BuiltAt int64    `json:"built_ts"`
}

// NewDeps builds a dependency summary manager over root. An empty root
// disables the surface; ttl <= 0 disables expiry.
func NewDeps(root string, model Completer, ttl time.Duration) *Deps {
	return &Deps{root: root, model: model, ttl: ttl}
}

// ProjectNames lists the description filenames, flat and sorted.
func (d *Deps) ProjectNames() ([]string, error) {
	if d == nil || d.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list project descriptions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ProjectSummary serves the cached summary of one named description.
func (d *Deps) ProjectSummary(name string) (string, error) {
	if d == nil || d.root == "" {
		return "", domain.NewEngineError(domain.ErrNotFound.Code, "no project description directory configured")
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", domain.NewEngineError(domain.ErrPathEscapesRoot.Code, name)
	}
	data, err := os.ReadFile(d.cachePath(name))
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrNotFound.Code,
			fmt.Sprintf("no summary for project description %s", name), err)
	}
	return string(data), nil
}

func (d *Deps) cachePath(name string) string {
	return filepath.Join(d.root, repo.MetaDirName, name+".json")
}

// EnsureAll regenerates every missing, mismatched or expired summary with
// a bounded fan-out. Individual failures skip the entry.
func (d *Deps) EnsureAll(ctx context.Context) error {
	if d == nil || d.root == "" {
		return nil
	}
	names, err := d.ProjectNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(d.root, repo.MetaDirName), 0o755); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshWorkers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := d.ensure(gctx, name); err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Deps) ensure(ctx context.Context, name string) error {
	raw, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		return err
	}
	hash := Digest(string(raw))

	if cached, err := os.ReadFile(d.cachePath(name)); err == nil {
		var ps projectSummary
		if json.Unmarshal(cached, &ps) == nil && ps.Hash == hash && !d.expired(ps.BuiltAt) {
			return nil
		}
	}
	if d.model == nil {
		return domain.NewEngineError(domain.ErrModelCall.Code, "no model configured for summaries")
	}

	user, err := json.Marshal(map[string]any{
		"info":    map[string]any{"filename": name, "size_bytes": len(raw), "sha256": hash},
		"content": string(raw),
	})
	if err != nil {
		return err
	}
	out, err := d.model.CompleteJSON(ctx, "project_summary", projectSummarySystemPrompt, string(user), "project_summary", projectSummarySchema)
	if err != nil {
		return err
	}

	var ps projectSummary
	if err := json.Unmarshal(out, &ps); err != nil {
		return domain.WrapEngineError(domain.ErrSchemaInvalid.Code, "project summary payload", err)
	}
	ps.V = 1
	ps.File = name
	ps.Hash = hash
	ps.BuiltAt = time.Now().Unix()
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return os.WriteFile(d.cachePath(name), append(data, '\n'), 0o644)
}

func (d *Deps) expired(builtAt int64) bool {
	if d.ttl <= 0 {
		return false
	}
	return builtAt <= 0 || time.Since(time.Unix(builtAt, 0)) > d.ttl
}

// Catalog fronts file and project summaries for the model tool surface.
type Catalog struct {
	Files    *Manager
	Projects *Deps
}

func (c Catalog) FileSummary(path string) (string, error) {
	return c.Files.FileSummary(path)
}

func (c Catalog) ProjectNames() ([]string, error) {
	return c.Projects.ProjectNames()
}

func (c Catalog) ProjectSummary(name string) (string, error) {
	return c.Projects.ProjectSummary(name)
}

const projectSummarySystemPrompt = `You are a project description summarizer.
Produce a compact, machine-oriented project summary JSON. Do NOT include code
snippets; write textual bullet hints only. Capture exported surface (classes,
functions, config keys), short usage notes, and risks. Use the strict JSON
schema provided.`

var projectSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"v": {"type": "integer"},
		"f": {"type": "string"},
		"h": {"type": "string"},
		"ex": {"type": "array", "items": {"type": "string"}},
		"u": {"type": "array", "items": {"type": "string"}},
		"r": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["v", "f", "h", "ex", "u", "r"],
	"additionalProperties": false
}`)
