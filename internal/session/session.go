// Package session hosts one editing session: it wires the state store,
// queue, engine, summaries and persistence together and exposes the
// operations the CLI maps onto.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quillworks/quill/internal/apply"
	"github.com/quillworks/quill/internal/config"
	"github.com/quillworks/quill/internal/domain"
	"github.com/quillworks/quill/internal/llm"
	"github.com/quillworks/quill/internal/queue"
	"github.com/quillworks/quill/internal/repo"
	"github.com/quillworks/quill/internal/state"
	"github.com/quillworks/quill/internal/store"
	"github.com/quillworks/quill/internal/summary"
)

// Session is one live editing session over a repository.
type Session struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *sql.DB
	fs     *repo.FS
	state  *state.Store
	queue  *queue.Queue
	engine *apply.Engine

	transformer llm.Transformer
	summaries   *summary.Manager
	deps        *summary.Deps

	consolidator queue.Consolidator

	queueRepo  store.QueueRepo
	commitRepo store.CommitRepo
	convRepo   store.ConversationRepo
	usageRepo  store.UsageRepo
	digestRepo store.DigestRepo
}

// New builds a session with the real model client. ask relays model
// questions to the user and may be nil.
func New(cfg *config.Config, log *slog.Logger, ask llm.AskFunc) (*Session, error) {
	fs, err := repo.NewFS(cfg.RepoRoot)
	if err != nil {
		return nil, err
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, cfg.DBPath, err)
	}

	s := &Session{cfg: cfg, log: log, db: db, fs: fs}

	usage := func(u domain.Usage) {
		if err := s.usageRepo.Record(context.Background(), db, u); err != nil {
			log.Warn("usage record failed", "err", err)
		}
	}

	// The client is built twice over the same options: once without tools
	// for summaries, once with the full registry for editing calls. The
	// summarizer must not be able to ask the user questions mid-refresh.
	plain := llm.NewClient(llm.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		CallsPerMinute: cfg.RateLimitPerMinute,
		MaxToolTurns:   cfg.MaxToolTurns,
	}, nil, usage)

	s.summaries = summary.NewManager(fs, plain, cfg.SummaryMaxBytes)
	s.deps = summary.NewDeps(cfg.DepsDir, plain, time.Duration(cfg.DepsTTLSec)*time.Second)

	catalog := summary.Catalog{Files: s.summaries, Projects: s.deps}
	tools := llm.RepoTools(fs, catalog, ask)
	s.transformer = llm.NewClient(llm.Options{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		CallsPerMinute: cfg.RateLimitPerMinute,
		MaxToolTurns:   cfg.MaxToolTurns,
	}, tools, usage)

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// newWith builds a session over an explicit transformer, for in-process use.
func newWith(cfg *config.Config, log *slog.Logger, fs *repo.FS, db *sql.DB, t llm.Transformer, summaries *summary.Manager, deps *summary.Deps) (*Session, error) {
	s := &Session{
		cfg: cfg, log: log, db: db, fs: fs,
		transformer: t, summaries: summaries, deps: deps,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) init() error {
	s.state = state.NewStore()
	s.queue = queue.New()
	s.engine = apply.New(s.state, s.queue, s.fs, s.transformer, s.summaries,
		apply.SplitPlanner{LineCap: s.cfg.LineCap})

	// Restore the pending queue from the last run.
	payload, err := s.queueRepo.Load(context.Background(), s.db)
	if err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := s.queue.Deserialize(payload); err != nil {
			return err
		}
		s.log.Debug("restored pending queue", "specs", s.queue.Len())
	}

	return s.bootstrapState()
}

// bootstrapState seeds the state store with a summary entry per file,
// using stored summaries where they exist.
func (s *Session) bootstrapState() error {
	paths, err := s.fs.List()
	if err != nil {
		return err
	}
	for _, p := range paths {
		body, err := s.summaries.FileSummary(p)
		if err != nil {
			body = ""
		}
		s.state.UpsertSummary(p, body)
	}
	s.log.Debug("state bootstrapped", "files", len(paths), "version", s.state.Version())
	return nil
}

// Close releases the session's database.
func (s *Session) Close() error {
	return s.db.Close()
}

// Chat runs one conversational turn: persist the user message, converse
// with the model over the capped history, enqueue any proposed changes,
// and auto-consolidate every few batches.
func (s *Session) Chat(ctx context.Context, input string) (string, error) {
	now := time.Now().Unix()
	history, err := s.convRepo.LoadRecent(ctx, s.db, s.cfg.ConversationCap)
	if err != nil {
		return "", err
	}
	if err := s.convRepo.Append(ctx, s.db, domain.Message{Role: "user", Content: input, CreatedAt: now}); err != nil {
		return "", err
	}

	proposal, err := s.transformer.Converse(ctx, llm.ConverseRequest{History: history, Input: input})
	if err != nil {
		return "", err
	}

	if err := s.convRepo.Append(ctx, s.db, domain.Message{
		Role: "assistant", Content: proposal.AssistantMessage, CreatedAt: time.Now().Unix(),
	}); err != nil {
		return "", err
	}

	enqueued := 0
	for _, spec := range proposal.Changes {
		if err := s.queue.Enqueue(spec); err != nil {
			s.log.Warn("proposed spec rejected", "id", spec.ID, "err", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		batches := s.queue.BumpBatches()
		s.log.Info("changes enqueued", "specs", enqueued, "batches", batches)
		if batches >= s.cfg.ConsolidateInterval {
			merged := s.consolidator.Consolidate(s.queue)
			s.queue.ResetBatches()
			if merged > 0 {
				s.log.Info("auto-consolidated", "merged", merged)
			}
		}
	}
	if err := s.persistQueue(ctx); err != nil {
		return "", err
	}
	return proposal.AssistantMessage, nil
}

// ApplyPending runs the apply transaction and, on success, records the
// commit, refreshes digests, archives the conversation, and persists the
// queue.
func (s *Session) ApplyPending(ctx context.Context) (domain.ApplyReport, error) {
	report, err := s.engine.Apply(ctx)
	if err != nil {
		return report, err
	}
	if report.Mode != domain.ModeOK {
		return report, nil
	}

	now := time.Now().Unix()
	if len(report.Written) > 0 {
		rec := domain.CommitRecord{
			ID:          "commit-" + uuid.NewString()[:8],
			Paths:       report.Written,
			Explanation: report.Explanation,
			CreatedAt:   now,
		}
		if err := s.commitRepo.Append(ctx, s.db, rec); err != nil {
			s.log.Warn("commit log append failed", "err", err)
		}
		for _, p := range report.Written {
			digest, err := s.fs.Digest(p)
			if err != nil {
				continue
			}
			if err := s.digestRepo.Upsert(ctx, s.db, p, digest, now); err != nil {
				s.log.Warn("digest upsert failed", "path", p, "err", err)
			}
		}
	}

	if err := s.convRepo.Archive(ctx, s.db); err != nil {
		s.log.Warn("conversation archive failed", "err", err)
	}
	if err := s.persistQueue(ctx); err != nil {
		return report, err
	}
	s.log.Info("apply finished", "written", len(report.Written), "splits", report.Splits, "version", report.StateVersion)
	return report, nil
}

// Preview returns the pending change specs in order.
func (s *Session) Preview() []domain.ChangeSpec {
	return s.queue.ListPending()
}

// Discard drops one pending spec by id and persists the queue.
func (s *Session) Discard(ctx context.Context, id string) (bool, error) {
	ok := s.queue.Discard(id)
	if !ok {
		return false, nil
	}
	return true, s.persistQueue(ctx)
}

// ConsolidateNow merges agreeing overlaps immediately.
func (s *Session) ConsolidateNow(ctx context.Context) (int, error) {
	merged := s.consolidator.Consolidate(s.queue)
	s.queue.ResetBatches()
	return merged, s.persistQueue(ctx)
}

// ClearPending empties the queue.
func (s *Session) ClearPending(ctx context.Context) error {
	s.queue.Clear()
	return s.persistQueue(ctx)
}

// RefreshSummaries regenerates stale file and dependency summaries.
func (s *Session) RefreshSummaries(ctx context.Context) error {
	if err := s.summaries.RefreshAll(ctx); err != nil {
		return err
	}
	return s.deps.EnsureAll(ctx)
}

// Status is the session overview shown by the status command.
type Status struct {
	Pending          int
	Batches          int
	StateVersion     int64
	Phase            apply.Phase
	Commits          int64
	RecentCommits    []domain.CommitRecord
	LiveMessages     int64
	PromptTokens     int64
	CompletionTokens int64
	Conflicts        []domain.Issue
}

// Status collects the session overview.
func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		Pending:      s.queue.Len(),
		Batches:      s.queue.Batches(),
		StateVersion: s.state.Version(),
		Phase:        s.engine.Phase(),
		Conflicts:    s.queue.Conflicts(),
	}
	var err error
	if st.Commits, err = s.commitRepo.Count(ctx, s.db); err != nil {
		return st, err
	}
	if st.RecentCommits, err = s.commitRepo.ListRecent(ctx, s.db, 5); err != nil {
		return st, err
	}
	if st.LiveMessages, err = s.convRepo.CountLive(ctx, s.db); err != nil {
		return st, err
	}
	if st.PromptTokens, st.CompletionTokens, err = s.usageRepo.Totals(ctx, s.db); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Session) persistQueue(ctx context.Context) error {
	payload, err := s.queue.Serialize()
	if err != nil {
		return err
	}
	if err := s.queueRepo.Save(ctx, s.db, payload, time.Now().Unix()); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}
