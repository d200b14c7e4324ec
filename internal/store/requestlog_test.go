package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleamkt/watchdog/internal/market"
)

func newTestLogDB(t *testing.T) *LogDB {
	t.Helper()
	db, err := OpenLogDB(filepath.Join(t.TempDir(), "watchdog.db"))
	if err != nil {
		t.Fatalf("open log db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRequestLogUsageSummary(t *testing.T) {
	db := newTestLogDB(t)
	ctx := context.Background()

	logs := []*RequestLog{
		{RequestID: "r1", UserID: 42, Site: "goofish", Query: "phone", Page: 1, Status: "ok", Items: 3, DurationMs: 120},
		{RequestID: "r2", UserID: 42, Site: "goofish", Query: "phone", Page: 2, Status: "empty_page"},
		{RequestID: "r3", UserID: 42, Site: "goofish", Query: "phone", Page: 1, Status: "transient"},
		{RequestID: "r4", UserID: 43, Site: "goofish", Query: "bike", Page: 1, Status: "ok", Items: 5},
	}
	for _, l := range logs {
		if err := db.Insert(ctx, l); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := db.UsageSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}

	first := rows[0]
	if first.UserID != 42 || first.Requests != 3 || first.Items != 3 || first.Errors != 1 {
		t.Fatalf("user 42 row = %+v", first)
	}
	if rows[1].UserID != 43 || rows[1].Items != 5 {
		t.Fatalf("user 43 row = %+v", rows[1])
	}
}

func TestRequestLogPurge(t *testing.T) {
	db := newTestLogDB(t)
	ctx := context.Background()

	old := &RequestLog{RequestID: "old", UserID: 1, Site: "goofish", Query: "q", Page: 1, Status: "ok", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &RequestLog{RequestID: "new", UserID: 1, Site: "goofish", Query: "q", Page: 1, Status: "ok"}
	if err := db.Insert(ctx, old); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Insert(ctx, fresh); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := db.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}
}

func TestItemStoreAppendAndLoad(t *testing.T) {
	st := NewItemStore(t.TempDir(), 0)

	items := []market.Item{
		{ID: "a", Title: "first", Price: 10, Site: "goofish"},
		{ID: "b", Title: "second", Price: 20, Site: "goofish"},
	}
	if err := st.Append(42, items); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Re-appending an id updates its snapshot instead of duplicating.
	if err := st.Append(42, []market.Item{{ID: "a", Title: "updated", Price: 9}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := st.Load(42)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d items, want 2", len(loaded))
	}
	if loaded[0].Title != "updated" {
		t.Fatalf("first = %+v, want updated snapshot", loaded[0])
	}
}

func TestItemStoreCap(t *testing.T) {
	st := NewItemStore(t.TempDir(), 2)

	items := []market.Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if err := st.Append(1, items); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, err := st.Load(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "b" || loaded[1].ID != "c" {
		t.Fatalf("loaded = %+v, want newest two", loaded)
	}
}
