package database

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

// useMigrations swaps MigrationsFS for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, dir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20260101_000000_outputs.up.sql":   {Data: []byte("CREATE TABLE outputs (id TEXT PRIMARY KEY);")},
		"sql/20260101_000000_outputs.down.sql": {Data: []byte("DROP TABLE outputs;")},
		"sql/20260102_000000_frames.up.sql":    {Data: []byte("CREATE TABLE frames (can_id INTEGER NOT NULL);")},
		"sql/20260102_000000_frames.down.sql":  {Data: []byte("DROP TABLE frames;")},
		"sql/README.md":                        {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations(), "sql")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "outputs") || !tableExists(t, db, "frames") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("applied[0] = %+v", applied[0])
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations(), "sql")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "frames") {
		t.Error("frames table should be dropped")
	}
	if !tableExists(t, db, "outputs") {
		t.Error("outputs table should remain")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "frames" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestMigrateFailureKeepsEarlierMigrations(t *testing.T) {
	fsys := testMigrations()
	fsys["sql/20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE (;")}
	useMigrations(t, fsys, "sql")
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Migrate(ctx)
	if err == nil || !strings.Contains(err.Error(), "20260103_000000 (broken)") {
		t.Fatalf("Migrate() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d", len(applied), len(pending))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil, ".")
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOK   bool
	}{
		{"20261019_090000_dobiss_output_state.up.sql", migrationFile{"20261019_090000", "dobiss_output_state", true}, true},
		{"20261019_091500_dobiss_unhandled_frames.down.sql", migrationFile{"20261019_091500", "dobiss_unhandled_frames", false}, true},
		{"20261019_090000.up.sql", migrationFile{"20261019_090000", "20261019_090000", true}, true},
		{"20261019.up.sql", migrationFile{}, false},
		{"2026101_090000_short.up.sql", migrationFile{}, false},
		{"2026x019_090000_letters.up.sql", migrationFile{}, false},
		{"20261019_090000_x.sql", migrationFile{}, false},
		{"README.md", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename() = (%+v, %v), want (%+v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
