package queue

import (
	"reflect"
	"strings"
	"testing"

	"github.com/quillworks/quill/internal/domain"
)

func TestConsolidate_MergesAgreeingOverlap(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-2", item("a.go", domain.ChangeModify), item("b.go", domain.ChangeCreate)))

	var c Consolidator
	n := c.Consolidate(q)
	if n != 1 {
		t.Fatalf("merged = %d, want 1", n)
	}

	pending := q.ListPending()
	if len(pending) != 1 {
		t.Fatalf("len = %d, want 1", len(pending))
	}
	if pending[0].ID != "ch-1" {
		t.Errorf("survivor = %q, want ch-1 (earlier wins position)", pending[0].ID)
	}
	if len(pending[0].Items) != 2 {
		t.Errorf("survivor items = %d, want 2", len(pending[0].Items))
	}
	if !strings.Contains(pending[0].Items[0].SummaryOfChange, "change a.go") {
		t.Errorf("merged summary lost audit trail: %q", pending[0].Items[0].SummaryOfChange)
	}
	if !strings.Contains(pending[0].Description, "ch-2") {
		t.Errorf("merged description does not reference folded spec: %q", pending[0].Description)
	}
}

func TestConsolidate_NeverMergesConflictingTypes(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeDelete)))
	q.Enqueue(spec("ch-2", item("a.go", domain.ChangeModify)))

	var c Consolidator
	if n := c.Consolidate(q); n != 0 {
		t.Fatalf("merged = %d, want 0", n)
	}
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2 (both retained)", q.Len())
	}
	if len(q.Conflicts()) != 1 {
		t.Errorf("conflicts = %d, want 1", len(q.Conflicts()))
	}
}

func TestConsolidate_DisjointSpecsUntouched(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-2", item("b.go", domain.ChangeModify)))

	var c Consolidator
	if n := c.Consolidate(q); n != 0 {
		t.Fatalf("merged = %d, want 0", n)
	}
	if got := ids(q.ListPending()); !reflect.DeepEqual(got, []string{"ch-1", "ch-2"}) {
		t.Errorf("order = %v", got)
	}
}

func TestConsolidate_Idempotent(t *testing.T) {
	q := New()
	// ch-3 bridges ch-1 and ch-2: merging it into ch-1 widens ch-1 to
	// overlap ch-2, so the fixpoint loop must also fold ch-2.
	q.Enqueue(spec("ch-1", item("x.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-2", item("y.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-3", item("x.go", domain.ChangeModify), item("y.go", domain.ChangeModify)))

	var c Consolidator
	c.Consolidate(q)
	once := q.ListPending()

	if n := c.Consolidate(q); n != 0 {
		t.Errorf("second Consolidate merged %d more specs", n)
	}
	twice := q.ListPending()

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("consolidate not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if len(once) != 1 {
		t.Errorf("fixpoint left %d specs, want 1", len(once))
	}
}
