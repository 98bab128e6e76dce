package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-leshan/migrations"
)

const (
	testUp   = "20261019_120000_create_readings.up.sql"
	testDown = "20261019_120000_create_readings.down.sql"
)

// testMigrations holds one reversible migration plus files that must be
// ignored.
var testMigrations = fstest.MapFS{
	testUp:      {Data: []byte("CREATE TABLE test_readings (id INTEGER PRIMARY KEY, endpoint TEXT NOT NULL);")},
	testDown:    {Data: []byte("DROP TABLE test_readings;")},
	"README.md": {Data: []byte("not a migration")},
	"notes.sql": {Data: []byte("-- not versioned")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()

	status, err := db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) != 0 || len(status.Pending) != 1 {
		t.Fatalf("before: applied=%d pending=%d, want 0 and 1", len(status.Applied), len(status.Pending))
	}
	if status.Pending[0].Name != "create_readings" || status.Pending[0].DownSQL == "" {
		t.Errorf("pending[0] = %+v", status.Pending[0])
	}

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_readings") {
		t.Fatal("table test_readings not created")
	}

	status, err = db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) != 1 || len(status.Pending) != 0 {
		t.Errorf("after: applied=%d pending=%d, want 1 and 0", len(status.Applied), len(status.Pending))
	}
	if status.Applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_Embedded(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "resource_readings") {
		t.Fatal("resource_readings not created")
	}

	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "resource_readings") {
		t.Error("resource_readings should have been dropped")
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, testMigrations); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_readings") {
		t.Error("table test_readings should have been dropped")
	}

	status, err := db.MigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) != 0 {
		t.Errorf("applied = %d after rollback, want 0", len(status.Applied))
	}

	if err := db.MigrateDown(ctx, testMigrations); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDown_NoDownFile(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()
	upOnly := fstest.MapFS{testUp: testMigrations[testUp]}

	if err := db.Migrate(ctx, upOnly); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, upOnly); err == nil {
		t.Error("MigrateDown() without down SQL should fail")
	}
	if err := db.MigrateDown(ctx, fstest.MapFS{}); err == nil {
		t.Error("MigrateDown() with the file missing should fail")
	}
}

func TestMigrate_Empty(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()

	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(ctx, fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

func TestMigrate_DownWithoutUp(t *testing.T) {
	db := openTestDB(t, true)

	orphan := fstest.MapFS{testDown: testMigrations[testDown]}
	if err := db.Migrate(context.Background(), orphan); err == nil {
		t.Error("Migrate() with an orphan down file should fail")
	}
}

func TestMigrate_FailureKeepsEarlier(t *testing.T) {
	db := openTestDB(t, true)
	ctx := context.Background()
	broken := fstest.MapFS{
		testUp:                          testMigrations[testUp],
		"20261019_130000_broken.up.sql": {Data: []byte("CREATE TABLE (")},
	}

	if err := db.Migrate(ctx, broken); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	status, err := db.MigrationStatus(ctx, broken)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Applied) != 1 || len(status.Pending) != 1 {
		t.Fatalf("applied=%d pending=%d, want 1 and 1", len(status.Applied), len(status.Pending))
	}
	if status.Pending[0].Name != "broken" {
		t.Errorf("pending[0].Name = %q, want broken", status.Pending[0].Name)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{"20261019_120000_resource_readings.up.sql", "20261019_120000", "resource_readings", true, true},
		{"20261019_120000_resource_readings.down.sql", "20261019_120000", "resource_readings", false, true},
		{"readme.txt", "", "", false, false},
		{"20261019_120000_resource_readings.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_120000_short_date.up.sql", "", "", false, false},
		{"20261019_120000_Upper.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
