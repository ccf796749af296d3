package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20250101_000000_create_devices.up.sql": {Data: []byte(
			"CREATE TABLE test_devices (id INTEGER PRIMARY KEY, serial TEXT NOT NULL);")},
		"20250101_000000_create_devices.down.sql": {Data: []byte(
			"DROP TABLE test_devices;")},
		"20250201_000000_add_name.up.sql": {Data: []byte(
			"ALTER TABLE test_devices ADD COLUMN name TEXT;")},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openMemoryDB(t)
	defer db.Close() //nolint:errcheck // test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_devices") {
		t.Fatal("table test_devices should exist")
	}

	// Running again is idempotent.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}
}

func TestMigrate_FailureRollsBackOnlyFailingMigration(t *testing.T) {
	db := openMemoryDB(t)
	defer db.Close() //nolint:errcheck // test cleanup
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20250301_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want the broken migration", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openMemoryDB(t)
	defer db.Close() //nolint:errcheck // test cleanup
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20250101_000000_create_devices.up.sql":   testMigrations()["20250101_000000_create_devices.up.sql"],
		"20250101_000000_create_devices.down.sql": testMigrations()["20250101_000000_create_devices.down.sql"],
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_devices") {
		t.Error("table test_devices should have been dropped")
	}

	if err := db.MigrateDown(ctx, fsys); !errors.Is(err, ErrNoMigrations) {
		t.Errorf("MigrateDown() on empty history error = %v, want ErrNoMigrations", err)
	}
}

func TestMigrateDown_MissingDownFile(t *testing.T) {
	db := openMemoryDB(t)
	defer db.Close() //nolint:errcheck // test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, testMigrations()); err == nil {
		t.Error("MigrateDown() expected error when latest migration has no down file")
	}
}

func TestMigrate_NilFS(t *testing.T) {
	db := openMemoryDB(t)
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20250428_090000_initial_schema.up.sql", "20250428_090000", "initial_schema", true, true},
		{"20250428_090000_initial_schema.down.sql", "20250428_090000", "initial_schema", false, true},
		{"20250428_090000.up.sql", "20250428_090000", "20250428_090000", true, true},
		{"20250428_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"nounderscore.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
