package sqlite

import (
	"context"
	"testing"
)

// newTestStore opens a fresh private database backed by a t.TempDir() file
// (a plain ":memory:" DSN isn't safe here: with MaxOpenConns(1) fine, but a
// temp file keeps the pattern identical to production and lets tests
// inspect the file if a failure needs debugging).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := New(ctx, Config{Path: t.TempDir() + "/contacts_test.db"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close test store: %v", err)
		}
	})
	return store
}
