// Package apply drives the apply transaction: promote the affected file
// state, invoke the external transformation, validate its response, write
// the results, queue split follow-ups, and refresh summaries. One
// transaction runs at a time.
package apply

import (
	"context"
	"fmt"
	"sync"

	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/llm"
	"github.com/quillworks/quill/internal/queue"
	"github.com/quillworks/quill/internal/repo"
	"github.com/quillworks/quill/internal/state"
)

// Phase is the engine's current position in the apply transaction.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePromoting  Phase = "promoting"
	PhaseInvoking   Phase = "invoking"
	PhaseValidating Phase = "validating"
	PhaseWriting    Phase = "writing"
	PhaseSplitting  Phase = "splitting"
	PhaseRefreshing Phase = "refreshing"
)

// Summarizer produces the compact summary a written file is demoted to
// after an apply.
type Summarizer interface {
	Summarize(ctx context.Context, path, contents string) (string, error)
}

// Engine owns the apply state machine over a store, a queue, a repository
// and the transformation boundary.
type Engine struct {
	store       *state.Store
	queue       *queue.Queue
	fs          *repo.FS
	transformer llm.Transformer
	summarizer  Summarizer
	splitter    SplitPlanner

	mu    sync.Mutex
	phase Phase
}

// New builds an engine. summarizer may be nil; written files are then
// demoted to a head-of-file placeholder summary.
func New(store *state.Store, q *queue.Queue, fs *repo.FS, t llm.Transformer, summarizer Summarizer, splitter SplitPlanner) *Engine {
	return &Engine{
		store:       store,
		queue:       q,
		fs:          fs,
		transformer: t,
		summarizer:  summarizer,
		splitter:    splitter,
		phase:       PhaseIdle,
	}
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// begin moves Idle to Promoting, failing with ErrBusy if a transaction is
// already in flight.
func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return domain.NewEngineError(domain.ErrBusy.Code,
			fmt.Sprintf("apply already in flight (phase %s)", e.phase))
	}
	e.phase = PhasePromoting
	return nil
}

// Apply runs one complete apply transaction over the pending queue.
//
// Failure before Writing leaves the queue intact and nothing written; the
// state keeps whatever version promotion reached. After Writing, specs
// fully satisfied by the write set are removed and specs touching a failed
// path stay pending.
func (e *Engine) Apply(ctx context.Context) (domain.ApplyReport, error) {
	if err := e.begin(); err != nil {
		return domain.ApplyReport{}, err
	}
	defer e.setPhase(PhaseIdle)

	pending := e.queue.ListPending()
	if len(pending) == 0 {
		return domain.ApplyReport{}, domain.NewEngineError(domain.ErrNothingToDo.Code, "no pending changes")
	}

	// Conflicting change types are surfaced, not resolved; the external
	// step sees both intents and the caller sees the issue.
	issues := e.queue.Conflicts()

	// Promoting.
	affected := queue.AffectedPaths(pending)
	createOnly := queue.CreateOnlyPaths(pending)

	// Liveness is judged before promotion: promoting a create-only path
	// puts it in the state, which must not make its own write look stale.
	preLive := make(map[string]bool, len(affected))
	for p := range affected {
		preLive[p] = e.store.Has(p)
	}
	isLive := func(p string) bool {
		if affected[p] {
			return preLive[p]
		}
		return e.fs.Exists(p)
	}

	loader := func(p string) (string, error) {
		if createOnly[p] && !e.fs.Exists(p) {
			return "", nil
		}
		return e.fs.Load(p)
	}
	if _, err := e.store.PromoteToFull(affected, loader); err != nil {
		return domain.ApplyReport{}, err
	}

	// Invoking. The sole suspension point; cancellation leaves the state
	// at the post-promotion version and the queue intact.
	e.setPhase(PhaseInvoking)
	res, err := e.transformer.Apply(ctx, llm.ApplyRequest{
		State:   e.store.GetSnapshot(),
		Pending: pending,
	})
	if err != nil {
		return domain.ApplyReport{}, err
	}

	// Validating.
	e.setPhase(PhaseValidating)
	if err := validateResult(res); err != nil {
		return domain.ApplyReport{}, err
	}
	if res.Mode == domain.ModeIncompatible {
		return domain.ApplyReport{
			Mode:         domain.ModeIncompatible,
			Explanation:  res.Explanation,
			StateVersion: e.store.Version(),
			Issues:       append(issues, res.Issues...),
		}, nil
	}
	issues = append(issues, res.Issues...)

	// Writing.
	e.setPhase(PhaseWriting)
	written := make(map[string]bool)
	failed := make(map[string]bool)
	var writtenOrder []string
	for _, fw := range res.Files {
		if written[fw.Path] {
			issues = append(issues, domain.Issue{Reason: "path appears twice in response, second write skipped", Paths: []string{fw.Path}})
			continue
		}
		if fw.IsNew && isLive(fw.Path) {
			issues = append(issues, domain.Issue{Reason: "marked new but the path is already a live file", Paths: []string{fw.Path}})
			failed[fw.Path] = true
			continue
		}
		if err := e.fs.Write(fw.Path, fw.Contents); err != nil {
			issues = append(issues, domain.Issue{Reason: "write failed: " + err.Error(), Paths: []string{fw.Path}})
			failed[fw.Path] = true
			continue
		}
		written[fw.Path] = true
		writtenOrder = append(writtenOrder, fw.Path)
	}

	// Delete intents are realized here: the response carries writes only.
	deleted := make(map[string]bool)
	for _, spec := range pending {
		for _, it := range spec.Items {
			if it.ChangeType != domain.ChangeDelete || written[it.Path] || deleted[it.Path] {
				continue
			}
			if err := e.fs.Remove(it.Path); err != nil {
				issues = append(issues, domain.Issue{Reason: "delete failed: " + err.Error(), Paths: []string{it.Path}})
				failed[it.Path] = true
				continue
			}
			e.store.Remove(it.Path)
			deleted[it.Path] = true
		}
	}

	// Splitting.
	e.setPhase(PhaseSplitting)
	splits := 0
	for _, fw := range res.Files {
		if !written[fw.Path] {
			continue
		}
		task, ok := e.splitter.Check(fw.Path, domain.CountLines(fw.Contents))
		if !ok {
			continue
		}
		if err := e.queue.Enqueue(task.Spec); err != nil {
			issues = append(issues, domain.Issue{Reason: "split follow-up rejected: " + err.Error(), Paths: []string{fw.Path}})
			continue
		}
		splits++
	}

	// Refreshing.
	e.setPhase(PhaseRefreshing)
	for _, fw := range res.Files {
		if !written[fw.Path] {
			continue
		}
		e.store.DemoteToSummary(fw.Path, e.summaryFor(ctx, fw.Path, fw.Contents))
	}

	e.cleanup(pending, written, deleted, failed)

	return domain.ApplyReport{
		Mode:         domain.ModeOK,
		Explanation:  res.Explanation,
		StateVersion: e.store.Version(),
		Written:      writtenOrder,
		Issues:       issues,
		Splits:       splits,
	}, nil
}

// cleanup drops pending specs whose every item was written or deleted.
// Split follow-ups enqueued this transaction are not in pending and stay.
func (e *Engine) cleanup(pending []domain.ChangeSpec, written, deleted, failed map[string]bool) {
	var satisfied []string
	for _, spec := range pending {
		done := true
		for _, it := range spec.Items {
			if failed[it.Path] || (!written[it.Path] && !deleted[it.Path]) {
				done = false
				break
			}
		}
		if done {
			satisfied = append(satisfied, spec.ID)
		}
	}
	e.queue.Remove(satisfied)
	e.queue.ResetBatches()
}

func (e *Engine) summaryFor(ctx context.Context, path, contents string) string {
	if e.summarizer != nil {
		if s, err := e.summarizer.Summarize(ctx, path, contents); err == nil && s != "" {
			return s
		}
	}
	return headSummary(contents)
}

// headSummary is the fallback when no summarizer is wired: the first few
// lines of the file, enough to keep the state entry useful.
func headSummary(contents string) string {
	const maxLines = 12
	n := 0
	for i := 0; i < len(contents); i++ {
		if contents[i] == '\n' {
			n++
			if n == maxLines {
				return contents[:i]
			}
		}
	}
	return contents
}

// validateResult re-checks the response invariants. Transformer
// implementations parse and validate their own wire payloads, but the
// engine does not trust that in-process callers did.
func validateResult(res domain.ApplyResult) error {
	if res.Mode != domain.ModeOK && res.Mode != domain.ModeIncompatible {
		return domain.NewEngineError(domain.ErrSchemaInvalid.Code,
			fmt.Sprintf("mode %q must be ok or incompatible", res.Mode))
	}
	if res.Mode == domain.ModeIncompatible && len(res.Files) != 0 {
		return domain.NewEngineError(domain.ErrSchemaInvalid.Code, "incompatible response must carry no files")
	}
	for i, f := range res.Files {
		if f.Path == "" {
			return domain.NewEngineError(domain.ErrSchemaInvalid.Code,
				fmt.Sprintf("files[%d].path must be non-empty", i))
		}
	}
	return nil
}
