package storage

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a fresh migrated database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
}

func TestListHelpers(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a,b"},
	}
	for _, tt := range tests {
		if got := JoinList(tt.in); got != tt.want {
			t.Errorf("JoinList(%v) = %q, want %q", tt.in, got, tt.want)
		}
		back := SplitList(tt.want)
		if len(back) != len(tt.in) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.want, back, tt.in)
		}
	}
}
