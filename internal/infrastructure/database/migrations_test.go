package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func testSource() Source {
	return Source{
		Dir: "sql",
		FS: fstest.MapFS{
			"sql/20260301_090000_fans.up.sql": {Data: []byte(
				"CREATE TABLE test_fans (id TEXT PRIMARY KEY, name TEXT NOT NULL);")},
			"sql/20260301_090000_fans.down.sql": {Data: []byte("DROP TABLE test_fans;")},
			"sql/20260302_100000_history.up.sql": {Data: []byte(
				"CREATE TABLE test_history (fan_id TEXT, value TEXT);")},
			"sql/README.md": {Data: []byte("not a migration")},
		},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_fans") || !tableExists(t, db, "test_history") {
		t.Fatal("migrations did not create tables")
	}

	applied, pending, err := db.MigrationStatus(ctx, testSource())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first record = %+v", applied[0])
	}

	if err := db.Migrate(ctx, testSource()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureLeavesEarlierApplied(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := testSource()
	src.FS.(fstest.MapFS)["sql/20260303_110000_broken.up.sql"] = &fstest.MapFile{Data: []byte("NOT SQL")}

	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied = %d pending = %+v", len(applied), pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := testSource()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The latest migration has no down file.
	if err := db.MigrateDown(ctx, src); err == nil {
		t.Fatal("MigrateDown() should fail without down SQL")
	}

	delete(src.FS.(fstest.MapFS), "sql/20260302_100000_history.up.sql")
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = '20260302_100000'"); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	if err := db.MigrateDown(ctx, src); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_fans") {
		t.Error("test_fans still exists after MigrateDown()")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrate_NoSource(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(context.Background(), Source{}); err != nil {
		t.Errorf("Migrate() with nil FS error = %v", err)
	}
	if err := db.Migrate(context.Background(), Source{FS: fstest.MapFS{}, Dir: "missing"}); err != nil {
		t.Errorf("Migrate() with missing dir error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260301_090000_fans.up.sql", "20260301_090000", true, true},
		{"20260301_090000_fans.down.sql", "20260301_090000", false, true},
		{"readme.txt", "", false, false},
		{"20260301_090000_fans.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk || version != tt.wantVersion || isUp != tt.wantIsUp {
				t.Errorf("parseMigrationFilename(%q) = %q, %v, %v", tt.filename, version, isUp, ok)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20260301_090000_fans.up.sql":            "fans",
		"20260302_100000_state_history.down.sql": "state_history",
		"plain.sql":                              "plain",
	}

	for filename, want := range tests {
		if got := extractMigrationName(filename); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", filename, got, want)
		}
	}
}
