package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/policy"
	"github.com/eugener/warden/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var _ storage.Store = (*Store)(nil)

func TestEntryRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("missing: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "warden:a", []byte("one")); err != nil {
		t.Fatal("set:", err)
	}
	got, ok, err := s.Get(ctx, "warden:a")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "one" {
		t.Errorf("value = %q, want %q", got, "one")
	}

	// Overwrite replaces the whole blob.
	if err := s.Set(ctx, "warden:a", []byte("two")); err != nil {
		t.Fatal("overwrite:", err)
	}
	got, _, _ = s.Get(ctx, "warden:a")
	if string(got) != "two" {
		t.Errorf("value after overwrite = %q", got)
	}

	// Delete is idempotent.
	if err := s.Delete(ctx, "warden:a"); err != nil {
		t.Fatal("delete:", err)
	}
	if err := s.Delete(ctx, "warden:a"); err != nil {
		t.Fatal("second delete:", err)
	}
	if _, ok, _ := s.Get(ctx, "warden:a"); ok {
		t.Error("deleted key should be gone")
	}
}

func TestKeysPrefixIsLiteral(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"warden:b", "warden:a", "wardenX:c", "war_den:d", "other:e"} {
		if err := s.Set(ctx, k, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys(ctx, "warden:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "warden:a" || keys[1] != "warden:b" {
		t.Errorf("keys = %v, want [warden:a warden:b]", keys)
	}

	// "_" is a LIKE wildcard; it must match only itself.
	keys, _ = s.Keys(ctx, "war_")
	if len(keys) != 1 || keys[0] != "war_den:d" {
		t.Errorf("keys = %v, want [war_den:d]", keys)
	}
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Set(ctx, "k", []byte("v")); !errors.Is(err, warden.ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestPolicyCacheOverSQLite(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	table := policy.Must(time.Minute)
	c, err := cache.New(s, table, cache.Options{Version: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, "detail-view:1", map[string]string{"name": "Ada"})

	got, ok := cache.Get[map[string]string](ctx, c, "detail-view:1")
	if !ok || got["name"] != "Ada" {
		t.Fatalf("got %v ok=%v", got, ok)
	}
	if size := c.SizeBytes(ctx); size == 0 {
		t.Error("SizeBytes should count the stored entry")
	}

	v2, _ := cache.New(s, table, cache.Options{Version: "v2"})
	if v2.Has(ctx, "detail-view:1") {
		t.Error("schema change should invalidate persisted entries")
	}
	if _, ok, _ := s.Get(ctx, "warden:detail-view:1"); ok {
		t.Error("invalidated entry should be deleted from SQLite")
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, warden.ErrNotFound) {
		t.Errorf("empty store err = %v, want ErrNotFound", err)
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		snap := &storage.Snapshot{
			ID:        id,
			Data:      []byte(`{"n":` + string(rune('1'+i)) + `}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatal("insert:", err)
		}
	}

	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal("latest:", err)
	}
	if latest.ID != "s3" || string(latest.Data) != `{"n":3}` {
		t.Errorf("latest = %s %s", latest.ID, latest.Data)
	}
	if !latest.CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("created_at = %s", latest.CreatedAt)
	}

	n, err := s.PruneSnapshots(ctx, 1)
	if err != nil {
		t.Fatal("prune:", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	latest, _ = s.LatestSnapshot(ctx)
	if latest.ID != "s3" {
		t.Errorf("prune removed the newest snapshot")
	}
}

func TestLatestSnapshotSubSecondOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC)
	// Inserted newest first, and with ids that sort the other way, so only
	// created_at can pick the right row.
	snaps := []*storage.Snapshot{
		{ID: "a", Data: []byte(`{}`), CreatedAt: base.Add(1500 * time.Millisecond)},
		{ID: "b", Data: []byte(`{}`), CreatedAt: base.Add(500 * time.Millisecond)},
		{ID: "z", Data: []byte(`{}`), CreatedAt: base},
	}
	for _, snap := range snaps {
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatal("insert:", err)
		}
	}

	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "a" {
		t.Errorf("latest = %s, want a (created at %s)", latest.ID, snaps[0].CreatedAt)
	}
	if !latest.CreatedAt.Equal(snaps[0].CreatedAt) {
		t.Errorf("created_at = %s, want %s", latest.CreatedAt, snaps[0].CreatedAt)
	}

	if _, err := s.PruneSnapshots(ctx, 2); err != nil {
		t.Fatal("prune:", err)
	}
	latest, _ = s.LatestSnapshot(ctx)
	if latest == nil || latest.ID != "a" {
		t.Errorf("prune kept the wrong rows: latest = %+v", latest)
	}
}

func TestConnString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", "file::memory:?mode=memory&cache=shared&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"},
		{"/var/lib/warden.db", "file:/var/lib/warden.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"},
	}
	for _, tt := range tests {
		if got := connString(tt.dsn); got != tt.want {
			t.Errorf("connString(%q) =\n  %s\nwant\n  %s", tt.dsn, got, tt.want)
		}
	}
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/ping.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, warden.ErrBackendUnavailable) {
		t.Errorf("ping after close = %v, want ErrBackendUnavailable", err)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/reopen.db"
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "warden:k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Migrations are idempotent across restarts.
	s, err = New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got, ok, err := s.Get(ctx, "warden:k"); err != nil || !ok || string(got) != "v" {
		t.Errorf("after reopen: %q ok=%v err=%v", got, ok, err)
	}
}
