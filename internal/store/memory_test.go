package store

import (
	"context"
	"errors"
	"testing"
)

func mustPut(t *testing.T, m *Memory, col string, d Document) string {
	t.Helper()
	id, err := m.Put(context.Background(), col, d)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return id
}

func TestMemoryRangeQueryInclusiveOrdered(t *testing.T) {
	m := NewMemory()
	for id, h := range map[string]string{"a": "wsqq1", "b": "wsqq3", "c": "wsqq9", "d": "wsqr0"} {
		mustPut(t, m, "spots", Document{"id": id, "location": map[string]any{"geohash": h}})
	}
	docs, err := m.RangeQuery(context.Background(), "spots", "location.geohash", "wsqq1", "wsqq9", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("want 3 docs, got %d", len(docs))
	}
	want := []string{"a", "b", "c"}
	for i, d := range docs {
		if d["id"] != want[i] {
			t.Fatalf("position %d: want %s, got %v", i, want[i], d["id"])
		}
	}
	docs, _ = m.RangeQuery(context.Background(), "spots", "location.geohash", "wsqq", "wsqq~", 2)
	if len(docs) != 2 {
		t.Fatalf("limit: want 2, got %d", len(docs))
	}
}

func TestMemoryPutAssignsID(t *testing.T) {
	m := NewMemory()
	id := mustPut(t, m, "spots", Document{"name": "x"})
	if id == "" {
		t.Fatal("want generated id")
	}
	d, err := m.GetByID(context.Background(), "spots", id)
	if err != nil {
		t.Fatal(err)
	}
	if d["id"] != id {
		t.Fatalf("want id written back, got %v", d["id"])
	}
	if _, err := m.GetByID(context.Background(), "spots", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryUpdateNestedFields(t *testing.T) {
	m := NewMemory()
	id := mustPut(t, m, "spots", Document{"id": "s1"})
	err := m.UpdateFields(context.Background(), "spots", id, map[string]any{"abuseReportsCount.fraud": 3, "expiresAt": 0})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := m.GetByID(context.Background(), "spots", id)
	counts, _ := d["abuseReportsCount"].(map[string]any)
	if counts["fraud"] != float64(3) {
		t.Fatalf("want fraud=3, got %v", d["abuseReportsCount"])
	}
	if err := m.UpdateFields(context.Background(), "spots", "nope", map[string]any{"a": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryArrayUnionAndRemove(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := mustPut(t, m, "spots", Document{"id": "s1"})
	c1 := map[string]any{"id": "c1", "text": "hi"}
	c2 := map[string]any{"id": "c2", "text": "yo"}
	for _, c := range []any{c1, c2, c1} {
		if err := m.AppendToArrayField(ctx, "spots", id, "comments", c); err != nil {
			t.Fatal(err)
		}
	}
	d, _ := m.GetByID(ctx, "spots", id)
	if arr := d["comments"].([]any); len(arr) != 2 {
		t.Fatalf("want union of 2, got %d", len(arr))
	}
	if err := m.RemoveFromArrayField(ctx, "spots", id, "comments", map[string]any{"id": "c1", "text": "stale"}); err != nil {
		t.Fatal(err)
	}
	d, _ = m.GetByID(ctx, "spots", id)
	if arr := d["comments"].([]any); len(arr) != 2 {
		t.Fatalf("non-matching remove changed array: %v", arr)
	}
	_ = m.RemoveFromArrayField(ctx, "spots", id, "comments", c1)
	d, _ = m.GetByID(ctx, "spots", id)
	arr := d["comments"].([]any)
	if len(arr) != 1 || arr[0].(map[string]any)["id"] != "c2" {
		t.Fatalf("want only c2 left, got %v", arr)
	}
}

func TestMemoryIncrementAndList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := mustPut(t, m, "spots", Document{"id": "s1"})
	for i := 1; i <= 3; i++ {
		n, err := m.IncrementField(ctx, "spots", id, "abuseReportsCount.fraud", 1)
		if err != nil {
			t.Fatal(err)
		}
		if n != int64(i) {
			t.Fatalf("want %d, got %d", i, n)
		}
	}
	col := SubCollection("spots", id, "reports")
	mustPut(t, m, col, Document{"reportedAt": 100})
	mustPut(t, m, col, Document{"reportedAt": 300})
	mustPut(t, m, col, Document{"reportedAt": 200})
	docs, err := m.List(ctx, col, "reportedAt", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 || docs[0]["reportedAt"] != float64(300) || docs[2]["reportedAt"] != float64(100) {
		t.Fatalf("want newest first, got %v", docs)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	id := mustPut(t, m, "spots", Document{"id": "s1", "status": "available"})
	d, _ := m.GetByID(context.Background(), "spots", id)
	d["status"] = "sold_out"
	again, _ := m.GetByID(context.Background(), "spots", id)
	if again["status"] != "available" {
		t.Fatalf("caller mutation leaked into store: %v", again["status"])
	}
}

func TestMemoryArrayElementByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	mustPut(t, m, "spots", Document{"id": "s1", "comments": []any{
		map[string]any{"id": "c1", "text": "first"},
		map[string]any{"id": "c2", "text": "second"},
	}})
	elem, ok, err := m.PatchArrayElementByID(ctx, "spots", "s1", "comments", "c2", map[string]any{"text": "edited", "updatedAt": 7})
	if err != nil || !ok {
		t.Fatalf("patch: ok=%v err=%v", ok, err)
	}
	if elem["text"] != "edited" || elem["updatedAt"] != float64(7) || elem["id"] != "c2" {
		t.Fatalf("want merged element, got %v", elem)
	}
	if _, ok, _ := m.PatchArrayElementByID(ctx, "spots", "s1", "comments", "nope", map[string]any{"text": "x"}); ok {
		t.Fatal("want ok=false for unknown element")
	}
	ok, err = m.RemoveArrayElementByID(ctx, "spots", "s1", "comments", "c1")
	if err != nil || !ok {
		t.Fatalf("remove: ok=%v err=%v", ok, err)
	}
	d, _ := m.GetByID(ctx, "spots", "s1")
	arr, _ := d["comments"].([]any)
	if len(arr) != 1 || arr[0].(map[string]any)["text"] != "edited" {
		t.Fatalf("want only edited c2 left, got %v", arr)
	}
	if ok, _ := m.RemoveArrayElementByID(ctx, "spots", "s1", "comments", "c1"); ok {
		t.Fatal("want ok=false on second remove")
	}
	if _, _, err := m.PatchArrayElementByID(ctx, "spots", "missing", "comments", "c1", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
