package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	prev := migrationSource
	RegisterMigrations(files, ".")
	t.Cleanup(func() { migrationSource = prev })
}

var testMigrations = fstest.MapFS{
	"20260301_090000_cameras.up.sql":   {Data: []byte("CREATE TABLE cameras (id TEXT PRIMARY KEY);")},
	"20260301_090000_cameras.down.sql": {Data: []byte("DROP TABLE cameras;")},
	"20260302_080000_commands.up.sql":  {Data: []byte("CREATE TABLE cmds (id TEXT PRIMARY KEY);")},
	"README.md":                        {Data: []byte("ignored")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate_AppliesInOrderAndIsRepeatable(t *testing.T) {
	withMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if !tableExists(t, db, "cameras") || !tableExists(t, db, "cmds") {
		t.Fatal("expected both tables to exist")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260301_090000" {
		t.Errorf("first applied = %s, want 20260301_090000", applied[0].Version)
	}
}

func TestMigrateDown(t *testing.T) {
	files := fstest.MapFS{
		"20260301_090000_cameras.up.sql":   testMigrations["20260301_090000_cameras.up.sql"],
		"20260301_090000_cameras.down.sql": testMigrations["20260301_090000_cameras.down.sql"],
	}
	withMigrations(t, files)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "cameras") {
		t.Error("cameras table still exists after MigrateDown")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestMigrateDown_WithoutDownSQL(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260302_080000_commands.up.sql": testMigrations["20260302_080000_commands.up.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() expected error for migration without down SQL")
	}
}

func TestMigrate_NoSourceRegistered(t *testing.T) {
	prev := migrationSource
	migrationSource.fsys = nil
	t.Cleanup(func() { migrationSource = prev })

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_FailingMigrationRollsBack(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260301_090000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260301_100000_broken.up.sql": {Data: []byte("CREATE TABLE broken (id INTEGER); NOT SQL;")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error")
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("earlier migration should stay committed")
	}
	if tableExists(t, db, "broken") {
		t.Error("failing migration should be rolled back")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_090000_initial_schema.up.sql", "20260301_090000", "initial_schema", true, true},
		{"20260301_090000_initial_schema.down.sql", "20260301_090000", "initial_schema", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"20260301_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"single.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
