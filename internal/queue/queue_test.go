package queue

import (
	"errors"
	"reflect"
	"testing"

	"github.com/quillworks/quill/internal/domain"
)

func spec(id string, items ...domain.ChangeItem) domain.ChangeSpec {
	return domain.ChangeSpec{
		ID:          id,
		Title:       "title " + id,
		Description: "description " + id,
		Items:       items,
	}
}

func item(path string, ct domain.ChangeType) domain.ChangeItem {
	return domain.ChangeItem{Path: path, ChangeType: ct, SummaryOfChange: "change " + path}
}

func ids(specs []domain.ChangeSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.ID
	}
	return out
}

func TestQueue_EnqueueOrderAndReplace(t *testing.T) {
	q := New()
	for _, s := range []domain.ChangeSpec{
		spec("ch-1", item("a.go", domain.ChangeModify)),
		spec("ch-2", item("b.go", domain.ChangeCreate)),
		spec("ch-3", item("c.go", domain.ChangeDelete)),
	} {
		if err := q.Enqueue(s); err != nil {
			t.Fatalf("Enqueue %s: %v", s.ID, err)
		}
	}

	// Replacing ch-1 keeps its original position.
	replacement := spec("ch-1", item("a.go", domain.ChangeModify), item("d.go", domain.ChangeCreate))
	replacement.Title = "updated"
	if err := q.Enqueue(replacement); err != nil {
		t.Fatalf("Enqueue replacement: %v", err)
	}

	pending := q.ListPending()
	want := []string{"ch-1", "ch-2", "ch-3"}
	if !reflect.DeepEqual(ids(pending), want) {
		t.Errorf("order = %v, want %v", ids(pending), want)
	}
	if pending[0].Title != "updated" {
		t.Errorf("replaced spec title = %q, want updated", pending[0].Title)
	}
	if len(pending[0].Items) != 2 {
		t.Errorf("replaced spec has %d items, want 2", len(pending[0].Items))
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := New()

	tests := []struct {
		name string
		spec domain.ChangeSpec
	}{
		{"empty id", domain.ChangeSpec{Title: "t", Items: []domain.ChangeItem{item("a.go", domain.ChangeModify)}}},
		{"empty title", domain.ChangeSpec{ID: "x", Items: []domain.ChangeItem{item("a.go", domain.ChangeModify)}}},
		{"bad change type", spec("y", domain.ChangeItem{Path: "a.go", ChangeType: "truncate"})},
		{"empty path", spec("z", domain.ChangeItem{ChangeType: domain.ChangeModify})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := q.Enqueue(tt.spec); !errors.Is(err, domain.ErrSpecInvalid) {
				t.Errorf("err = %v, want ErrSpecInvalid", err)
			}
		})
	}
	if q.Len() != 0 {
		t.Errorf("invalid specs were enqueued: len = %d", q.Len())
	}
}

func TestQueue_EnqueueCopiesItems(t *testing.T) {
	q := New()
	items := []domain.ChangeItem{item("./pkg/a.go", domain.ChangeModify)}
	s := spec("ch-1")
	s.Items = items
	if err := q.Enqueue(s); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Normalization must not write through to the caller's slice.
	if items[0].Path != "./pkg/a.go" {
		t.Errorf("caller's item mutated: %q", items[0].Path)
	}
	// Nor may the caller reach queue-owned data afterwards.
	items[0].Path = "hijacked.go"
	if got := q.ListPending()[0].Items[0].Path; got != "pkg/a.go" {
		t.Errorf("queued path = %q, want pkg/a.go", got)
	}
}

func TestQueue_DiscardIdempotent(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-2", item("b.go", domain.ChangeModify)))

	if !q.Discard("ch-1") {
		t.Error("first discard returned false")
	}
	lenAfterFirst := q.Len()
	if q.Discard("ch-1") {
		t.Error("second discard of same id returned true")
	}
	if q.Len() != lenAfterFirst {
		t.Errorf("len changed on repeated discard: %d -> %d", lenAfterFirst, q.Len())
	}
	if q.Discard("never-existed") {
		t.Error("discard of unknown id returned true")
	}
}

func TestQueue_AffectedPaths(t *testing.T) {
	specs := []domain.ChangeSpec{
		spec("ch-1", item("a.go", domain.ChangeModify), item("b.go", domain.ChangeCreate)),
		spec("ch-2", item("b.go", domain.ChangeCreate), item("c.go", domain.ChangeDelete)),
	}
	got := AffectedPaths(specs)
	want := map[string]bool{"a.go": true, "b.go": true, "c.go": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AffectedPaths = %v, want %v", got, want)
	}
}

func TestQueue_CreateOnlyPaths(t *testing.T) {
	specs := []domain.ChangeSpec{
		spec("ch-1", item("new.go", domain.ChangeCreate), item("old.go", domain.ChangeModify)),
		spec("ch-2", item("both.go", domain.ChangeCreate)),
		spec("ch-3", item("both.go", domain.ChangeModify)),
	}
	got := CreateOnlyPaths(specs)
	want := map[string]bool{"new.go": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CreateOnlyPaths = %v, want %v", got, want)
	}
}

func TestQueue_Conflicts(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeDelete)))
	q.Enqueue(spec("ch-2", item("a.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-3", item("b.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-4", item("b.go", domain.ChangeModify)))

	issues := q.Conflicts()
	if len(issues) != 1 {
		t.Fatalf("got %d conflict issues, want 1: %+v", len(issues), issues)
	}
	if issues[0].Paths[0] != "a.go" {
		t.Errorf("conflict path = %q, want a.go", issues[0].Paths[0])
	}
}

func TestQueue_SerializeRoundTrip(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-2", item("b.go", domain.ChangeCreate), item("a.go", domain.ChangeModify)))
	q.Enqueue(spec("ch-1", item("c.go", domain.ChangeDelete)))
	q.BumpBatches()
	q.BumpBatches()

	data, err := q.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored := New()
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if !reflect.DeepEqual(restored.ListPending(), q.ListPending()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", restored.ListPending(), q.ListPending())
	}
	if restored.Batches() != 2 {
		t.Errorf("batches = %d, want 2", restored.Batches())
	}
}

func TestQueue_DeserializeCorrupt(t *testing.T) {
	q := New()
	if err := q.Deserialize([]byte("{not json")); !errors.Is(err, domain.ErrQueueCorrupt) {
		t.Errorf("err = %v, want ErrQueueCorrupt", err)
	}
}

func TestQueue_ClearResetsBatches(t *testing.T) {
	q := New()
	q.Enqueue(spec("ch-1", item("a.go", domain.ChangeModify)))
	q.BumpBatches()
	q.Clear()
	if q.Len() != 0 || q.Batches() != 0 {
		t.Errorf("after Clear: len=%d batches=%d, want 0/0", q.Len(), q.Batches())
	}
}
