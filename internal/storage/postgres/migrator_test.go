package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_a;"),
		},
		"sql/migrations/0002_more.up.sql": {
			Data: []byte("CREATE TABLE test_b (id INT);"),
		},
		"sql/migrations/0002_more.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test_b;"),
		},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
}

func TestLoadMigrationsFromFS_MissingDown(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("CREATE TABLE test_a (id INT);"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsFromFS_InvalidFilename(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/not_a_migration.sql": {
			Data: []byte("SELECT 1;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for invalid migration file name")
	}
}

func TestLoadMigrationsFromFS_EmptyFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql": {
			Data: []byte("   \n"),
		},
		"sql/migrations/0001_init.down.sql": {
			Data: []byte("DROP TABLE IF EXISTS test;"),
		},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil {
		t.Fatal("expected error for empty migration file body")
	}
}

func TestLoadMigrationsFromFS_EmbeddedSet(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != int64(i+1) {
			t.Fatalf("unexpected version order at %d: %d", i, m.Version)
		}
	}
	if !strings.Contains(migrations[0].Scripts[migrationUp], "CHECK (stock_quantity >= 0)") {
		t.Fatal("products table must reject negative stock")
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	versions := func(plan []migration) []int64 {
		out := make([]int64, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.Version)
		}
		return out
	}

	tests := []struct {
		name      string
		applied   map[int64]bool
		direction migrationDirection
		steps     int
		want      []int64
	}{
		{name: "up all", applied: map[int64]bool{}, direction: migrationUp, want: []int64{1, 2, 3}},
		{name: "up limited", applied: map[int64]bool{1: true}, direction: migrationUp, steps: 1, want: []int64{2}},
		{name: "up nothing pending", applied: map[int64]bool{1: true, 2: true, 3: true}, direction: migrationUp, want: []int64{}},
		{name: "down newest first", applied: map[int64]bool{1: true, 2: true}, direction: migrationDown, steps: 5, want: []int64{2, 1}},
		{name: "down one", applied: map[int64]bool{1: true, 2: true, 3: true}, direction: migrationDown, steps: 1, want: []int64{3}},
		{name: "down empty", applied: map[int64]bool{}, direction: migrationDown, steps: 1, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := versions(planMigrations(all, tt.applied, tt.direction, tt.steps))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestLoadMigrationsFromFS_NameMismatch(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/migrations/0001_other.down.sql": {Data: []byte("DROP TABLE a;")},
	}

	_, err := loadMigrationsFromFS(fsys)
	if err == nil || !strings.Contains(err.Error(), "name mismatch") {
		t.Fatalf("expected name mismatch error, got %v", err)
	}
}
