package sqlite

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"

	"docrepo/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "nested", "docs.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.CreateTable(context.Background(), "some_entity"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return store
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Insert(ctx, "some_entity", 0, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := store.ConditionalUpdate(ctx, "some_entity", id, 0, []byte(`{"x":2}`))
	if err != nil || n != 1 {
		t.Fatalf("update: n=%d err=%v", n, err)
	}
	n, err = store.ConditionalUpdate(ctx, "some_entity", id, 0, []byte(`{"x":3}`))
	if err != nil || n != 0 {
		t.Fatalf("stale update should touch no rows: n=%d err=%v", n, err)
	}
	rows, err := store.Search(ctx, "some_entity", domain.Query{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 || rows[0].Identity != id || rows[0].Version != 1 || string(rows[0].Document) != `{"x":2}` {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if n, err := store.Delete(ctx, "some_entity", id); err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if n, err := store.Delete(ctx, "some_entity", id); err != nil || n != 0 {
		t.Fatalf("second delete: n=%d err=%v", n, err)
	}
}

func TestSQLiteLikeUsesRegisteredContains(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, doc := range []string{`{"x":1,"y":2}`, `{"x":2,"y":5}`, `{"x":3,"y":3}`} {
		if _, err := store.Insert(ctx, "some_entity", 0, []byte(doc)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	rows, err := store.Search(ctx, "some_entity", domain.Query{Predicate: store.LikePredicate(), Params: []any{`{"x":2}`}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 || string(rows[0].Document) != `{"x":2,"y":5}` {
		t.Fatalf("unexpected like rows %+v", rows)
	}
}

func TestSQLiteFragmentsAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, doc := range []string{`{"x":3}`, `{"x":1}`, `{"x":2}`} {
		if _, err := store.Insert(ctx, "some_entity", 0, []byte(doc)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	rows, err := store.Search(ctx, "some_entity", domain.Query{Predicate: "json_extract(data, '$.x') < ?", Params: []any{3}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows below 3, got %d", len(rows))
	}
	rows, err = store.Search(ctx, "some_entity", domain.Query{Predicate: "ORDER BY json_extract(data, '$.x')", Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 1 || string(rows[0].Document) != `{"x":1}` {
		t.Fatalf("unexpected ordered rows %+v", rows)
	}
	if err := store.DeleteAll(ctx, "some_entity"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	rows, err = store.Search(ctx, "some_entity", domain.Query{})
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows (%v)", len(rows), err)
	}
}

func TestSQLiteInMemoryAndIndexNoop(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, ":memory:")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != ":memory:" {
		t.Fatalf("unexpected path %q", store.Path())
	}
	if err := store.CreateTable(ctx, "t"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := store.CreateTable(ctx, "t"); err != nil {
		t.Fatalf("CreateTable should be idempotent: %v", err)
	}
	if err := store.CreateIndex(ctx, "t"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := store.Insert(ctx, "t", 0, []byte(`{}`)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestJSONContainsIgnoresNonText(t *testing.T) {
	got, err := jsonContains(nil, []driver.Value{int64(1), `{}`})
	if err != nil || got != int64(0) {
		t.Fatalf("expected 0 for non-text doc, got %v (%v)", got, err)
	}
	got, _ = jsonContains(nil, []driver.Value{[]byte(`{"a":1}`), `{"a":1}`})
	if got != int64(1) {
		t.Fatalf("expected 1 for matching doc, got %v", got)
	}
}
