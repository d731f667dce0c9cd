package queue

import (
	"strings"

	"github.com/quillworks/quill/internal/domain"
)

// Consolidator merges duplicate or overlapping pending change batches.
type Consolidator struct{}

// Consolidate scans pending specs in queue order and folds any later spec
// into an earlier one when their items overlap on a path with agreeing
// change types. The earlier spec keeps its position; the later spec's
// summaries are appended for audit. Specs disagreeing on a path's change
// type are never merged (both stay pending; apply surfaces the conflict).
//
// Consolidation is deterministic and idempotent: running it twice yields
// the same queue contents as running it once.
func (Consolidator) Consolidate(q *Queue) int {
	kept := q.ListPending()

	// A merge can widen an earlier spec's path set and expose a new
	// overlap with a spec between the two, so iterate to a fixpoint.
	merged := 0
	for {
		next, n := consolidateOnce(kept)
		if n == 0 {
			break
		}
		kept = next
		merged += n
	}

	if merged == 0 {
		return 0
	}

	q.mu.Lock()
	q.order = q.order[:0]
	q.byID = make(map[string]domain.ChangeSpec, len(kept))
	for _, spec := range kept {
		q.order = append(q.order, spec.ID)
		q.byID[spec.ID] = spec
	}
	q.mu.Unlock()
	return merged
}

func consolidateOnce(specs []domain.ChangeSpec) ([]domain.ChangeSpec, int) {
	merged := 0
	kept := make([]domain.ChangeSpec, 0, len(specs))

	for _, spec := range specs {
		target := -1
		for i := range kept {
			if mergeable(kept[i], spec) {
				target = i
				break
			}
		}
		if target < 0 {
			kept = append(kept, spec)
			continue
		}
		kept[target] = mergeInto(kept[target], spec)
		merged++
	}
	return kept, merged
}

// mergeable reports whether b can fold into a: they share at least one
// path, and every shared path agrees on change type.
func mergeable(a, b domain.ChangeSpec) bool {
	types := make(map[string]domain.ChangeType, len(a.Items))
	for _, it := range a.Items {
		types[it.Path] = it.ChangeType
	}

	overlap := false
	for _, it := range b.Items {
		t, ok := types[it.Path]
		if !ok {
			continue
		}
		if t != it.ChangeType {
			return false
		}
		overlap = true
	}
	return overlap
}

// mergeInto folds b's items into a. Items on paths a already covers have
// their summaries appended to a's item; new paths are appended in order.
func mergeInto(a, b domain.ChangeSpec) domain.ChangeSpec {
	index := make(map[string]int, len(a.Items))
	for i, it := range a.Items {
		index[it.Path] = i
	}

	for _, it := range b.Items {
		if i, ok := index[it.Path]; ok {
			existing := a.Items[i].SummaryOfChange
			if it.SummaryOfChange != "" && !strings.Contains(existing, it.SummaryOfChange) {
				a.Items[i].SummaryOfChange = existing + "; " + it.SummaryOfChange
			}
			continue
		}
		a.Items = append(a.Items, it)
		index[it.Path] = len(a.Items) - 1
	}

	if b.Description != "" && !strings.Contains(a.Description, b.Description) {
		a.Description = a.Description + "\n[merged " + b.ID + "] " + b.Description
	}
	return a
}
