// Package queue owns the ordered, deduplicated collection of pending
// change specs.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quillworks/quill/internal/domain"
)

// Queue holds pending ChangeSpecs keyed by id in insertion order.
// Re-enqueueing an existing id replaces the record in place so apply
// ordering stays deterministic.
type Queue struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]domain.ChangeSpec

	// batches counts proposal batches accepted since the last
	// consolidation; the session layer uses it to auto-consolidate.
	batches int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{byID: make(map[string]domain.ChangeSpec)}
}

// Enqueue inserts or replaces a spec by id. New ids append; known ids keep
// their original position. The spec is validated and its item paths
// normalized before insertion.
func (q *Queue) Enqueue(spec domain.ChangeSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}
	// The queue owns its specs: copy the items so normalization never
	// touches the caller's slice and the caller keeps no handle in.
	spec = copySpec(spec)
	for i := range spec.Items {
		spec.Items[i].Path = domain.NormalizePath(spec.Items[i].Path)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[spec.ID]; !ok {
		q.order = append(q.order, spec.ID)
	}
	q.byID[spec.ID] = spec
	return nil
}

// ListPending returns a snapshot of pending specs in queue order.
func (q *Queue) ListPending() []domain.ChangeSpec {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.ChangeSpec, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, copySpec(q.byID[id]))
	}
	return out
}

// Len returns the number of pending specs.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.order)
}

// Discard removes a spec by id. Discarding an absent id is a no-op so
// repeated discards stay idempotent. Returns whether anything was removed.
func (q *Queue) Discard(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

// Remove removes several ids at once (used after a successful apply).
func (q *Queue) Remove(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.removeLocked(id)
	}
}

func (q *Queue) removeLocked(id string) bool {
	if _, ok := q.byID[id]; !ok {
		return false
	}
	delete(q.byID, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes all pending specs and resets the batch counter.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = nil
	q.byID = make(map[string]domain.ChangeSpec)
	q.batches = 0
}

// AffectedPaths derives the union of item paths across the given specs.
func AffectedPaths(specs []domain.ChangeSpec) map[string]bool {
	paths := make(map[string]bool)
	for _, spec := range specs {
		for _, it := range spec.Items {
			paths[it.Path] = true
		}
	}
	return paths
}

// CreateOnlyPaths returns the affected paths that are exclusively targets
// of create items; these are not required to exist during promotion.
func CreateOnlyPaths(specs []domain.ChangeSpec) map[string]bool {
	createOnly := make(map[string]bool)
	for _, spec := range specs {
		for _, it := range spec.Items {
			switch it.ChangeType {
			case domain.ChangeCreate:
				if _, seen := createOnly[it.Path]; !seen {
					createOnly[it.Path] = true
				}
			default:
				createOnly[it.Path] = false
			}
		}
	}
	for p, ok := range createOnly {
		if !ok {
			delete(createOnly, p)
		}
	}
	return createOnly
}

// Conflicts returns one issue per path targeted by two pending specs with
// disagreeing change types. They are surfaced, never resolved silently.
func (q *Queue) Conflicts() []domain.Issue {
	specs := q.ListPending()

	type claim struct {
		specID string
		ctype  domain.ChangeType
	}
	byPath := make(map[string][]claim)
	for _, spec := range specs {
		for _, it := range spec.Items {
			byPath[it.Path] = append(byPath[it.Path], claim{spec.ID, it.ChangeType})
		}
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var issues []domain.Issue
	for _, p := range paths {
		claims := byPath[p]
		for i := 1; i < len(claims); i++ {
			if claims[i].ctype != claims[0].ctype {
				issues = append(issues, domain.Issue{
					Reason: fmt.Sprintf("conflicting change types for %s: %s wants %s, %s wants %s",
						p, claims[0].specID, claims[0].ctype, claims[i].specID, claims[i].ctype),
					Paths: []string{p},
				})
				break
			}
		}
	}
	return issues
}

// BumpBatches increments the batch counter and returns the new count.
func (q *Queue) BumpBatches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches++
	return q.batches
}

// ResetBatches zeroes the batch counter (after a consolidation).
func (q *Queue) ResetBatches() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = 0
}

// Batches returns the number of batches accepted since last consolidation.
func (q *Queue) Batches() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.batches
}

// serializedQueue is the on-the-wire shape for host persistence.
type serializedQueue struct {
	Specs   []domain.ChangeSpec `json:"pending_changes"`
	Batches int                 `json:"batches_since_last_consolidation"`
}

// Serialize renders the queue as JSON for the host persistence surface.
// The queue itself performs no I/O.
func (q *Queue) Serialize() ([]byte, error) {
	q.mu.RLock()
	payload := serializedQueue{Batches: q.batches}
	for _, id := range q.order {
		payload.Specs = append(payload.Specs, copySpec(q.byID[id]))
	}
	q.mu.RUnlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrQueueCorrupt.Code, "serialize queue", err)
	}
	return data, nil
}

// Deserialize replaces the queue contents from a Serialize payload,
// preserving spec order and item order.
func (q *Queue) Deserialize(data []byte) error {
	var payload serializedQueue
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.WrapEngineError(domain.ErrQueueCorrupt.Code, "deserialize queue", err)
	}

	fresh := New()
	for _, spec := range payload.Specs {
		if err := fresh.Enqueue(spec); err != nil {
			return err
		}
	}

	q.mu.Lock()
	q.order = fresh.order
	q.byID = fresh.byID
	q.batches = payload.Batches
	q.mu.Unlock()
	return nil
}

func validateSpec(spec domain.ChangeSpec) error {
	if spec.ID == "" {
		return domain.NewEngineError(domain.ErrSpecInvalid.Code, "spec id must be non-empty")
	}
	if spec.Title == "" {
		return domain.NewEngineError(domain.ErrSpecInvalid.Code, fmt.Sprintf("spec %s: title must be non-empty", spec.ID))
	}
	for i, it := range spec.Items {
		if it.Path == "" {
			return domain.NewEngineError(domain.ErrSpecInvalid.Code, fmt.Sprintf("spec %s item %d: path must be non-empty", spec.ID, i))
		}
		if !domain.ValidChangeType(it.ChangeType) {
			return domain.NewEngineError(domain.ErrSpecInvalid.Code, fmt.Sprintf("spec %s item %d: invalid change_type %q", spec.ID, i, it.ChangeType))
		}
	}
	return nil
}

func copySpec(spec domain.ChangeSpec) domain.ChangeSpec {
	out := spec
	out.Items = make([]domain.ChangeItem, len(spec.Items))
	copy(out.Items, spec.Items)
	return out
}
