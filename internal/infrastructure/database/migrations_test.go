package database

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
)

// recorderMigrations holds two reversible migrations among files the
// loader must skip.
var recorderMigrations = fstest.MapFS{
	"20260101_000000_devices.up.sql":   {Data: []byte("CREATE TABLE devices (address TEXT PRIMARY KEY) STRICT;")},
	"20260101_000000_devices.down.sql": {Data: []byte("DROP TABLE devices;")},
	"20260102_000000_groups.up.sql":    {Data: []byte("CREATE TABLE group_addresses (address TEXT PRIMARY KEY) STRICT;")},
	"20260102_000000_groups.down.sql":  {Data: []byte("DROP TABLE group_addresses;")},
	"README.md":                        {Data: []byte("not a migration")},
	"20260103_000000_notes.txt":        {Data: []byte("ignored")},
	"subdir/20260104_000000_x.up.sql":  {Data: []byte("ignored")},
}

// useMigrations registers fsys for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	prev := registeredMigrations()
	RegisterMigrations(fsys)
	t.Cleanup(func() { RegisterMigrations(prev) })
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n == 1
}

func appliedCount(t *testing.T, db *DB) int {
	t.Helper()
	states, err := db.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	n := 0
	for _, st := range states {
		if st.Applied() {
			n++
		}
	}
	return n
}

func TestMigrate(t *testing.T) {
	useMigrations(t, recorderMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(states) != 2 || states[0].Name != "devices" || states[1].Name != "groups" {
		t.Fatalf("states = %+v", states)
	}
	for _, st := range states {
		if st.Applied() {
			t.Errorf("%s applied before Migrate", st.Version)
		}
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "devices") || !tableExists(t, db, "group_addresses") {
		t.Error("tables not created")
	}
	if n := appliedCount(t, db); n != 2 {
		t.Errorf("applied = %d, want 2", n)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierSteps(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260101_000000_devices.up.sql": {Data: []byte("CREATE TABLE devices (address TEXT) STRICT;")},
		"20260102_000000_broken.up.sql":  {Data: []byte("CREATE TABLE devices (address TEXT);")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() should fail on the duplicate table")
	}
	if !tableExists(t, db, "devices") {
		t.Error("first migration was rolled back")
	}
	if n := appliedCount(t, db); n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	states, err := db.MigrationStatus(context.Background())
	if err != nil || len(states) != 0 {
		t.Errorf("MigrationStatus() = %v, %v", states, err)
	}
}

func TestRollback(t *testing.T) {
	tests := []struct {
		name        string
		steps       int
		wantVersion []string
		wantApplied int
	}{
		{"newest only", 1, []string{"20260102_000000"}, 1},
		{"both", 2, []string{"20260102_000000", "20260101_000000"}, 0},
		{"more than applied", 5, []string{"20260102_000000", "20260101_000000"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useMigrations(t, recorderMigrations)
			db := openTestDB(t)
			ctx := context.Background()
			if err := db.Migrate(ctx); err != nil {
				t.Fatalf("Migrate() error = %v", err)
			}

			done, err := db.Rollback(ctx, tt.steps)
			if err != nil {
				t.Fatalf("Rollback() error = %v", err)
			}
			var versions []string
			for _, m := range done {
				versions = append(versions, m.Version)
			}
			if len(versions) != len(tt.wantVersion) {
				t.Fatalf("reverted %v, want %v", versions, tt.wantVersion)
			}
			for i := range versions {
				if versions[i] != tt.wantVersion[i] {
					t.Errorf("reverted %v, want %v", versions, tt.wantVersion)
				}
			}
			if n := appliedCount(t, db); n != tt.wantApplied {
				t.Errorf("applied = %d, want %d", n, tt.wantApplied)
			}
			if tableExists(t, db, "group_addresses") {
				t.Error("group_addresses table survived rollback")
			}
		})
	}
}

func TestRollback_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid steps", func(t *testing.T) {
		useMigrations(t, recorderMigrations)
		db := openTestDB(t)
		if _, err := db.Rollback(ctx, 0); err == nil {
			t.Error("Rollback(0) should fail")
		}
	})

	t.Run("no down script", func(t *testing.T) {
		useMigrations(t, fstest.MapFS{
			"20260101_000000_devices.up.sql": {Data: []byte("CREATE TABLE devices (address TEXT) STRICT;")},
		})
		db := openTestDB(t)
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if _, err := db.Rollback(ctx, 1); !errors.Is(err, ErrIrreversible) {
			t.Errorf("Rollback() error = %v, want ErrIrreversible", err)
		}
		if !tableExists(t, db, "devices") {
			t.Error("table dropped despite error")
		}
	})

	t.Run("files removed after apply", func(t *testing.T) {
		useMigrations(t, recorderMigrations)
		db := openTestDB(t)
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		RegisterMigrations(fstest.MapFS{
			"20260101_000000_devices.up.sql":   recorderMigrations["20260101_000000_devices.up.sql"],
			"20260101_000000_devices.down.sql": recorderMigrations["20260101_000000_devices.down.sql"],
		})

		states, err := db.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
		if len(states) != 2 || states[1].Version != "20260102_000000" || states[1].Name != "" || !states[1].Applied() {
			t.Errorf("states = %+v", states)
		}
		if _, err := db.Rollback(ctx, 1); !errors.Is(err, ErrUnknownMigration) {
			t.Errorf("Rollback() error = %v, want ErrUnknownMigration", err)
		}
	})
}

func TestLoadMigrations(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fs.FS
		want    []Migration
		wantErr bool
	}{
		{
			name: "pairs sorted by version",
			fsys: fstest.MapFS{
				"20260102_000000_b.up.sql":   {Data: []byte("B")},
				"20260101_000000_a.up.sql":   {Data: []byte("A")},
				"20260101_000000_a.down.sql": {Data: []byte("a")},
			},
			want: []Migration{
				{Version: "20260101_000000", Name: "a", Up: "A", Down: "a"},
				{Version: "20260102_000000", Name: "b", Up: "B"},
			},
		},
		{
			name:    "down without up",
			fsys:    fstest.MapFS{"20260101_000000_a.down.sql": {Data: []byte("a")}},
			wantErr: true,
		},
		{
			name: "names disagree",
			fsys: fstest.MapFS{
				"20260101_000000_a.up.sql":   {Data: []byte("A")},
				"20260101_000000_b.down.sql": {Data: []byte("b")},
			},
			wantErr: true,
		},
		{
			name: "unrelated files",
			fsys: fstest.MapFS{
				"invalid.up.sql":                 {Data: []byte("x")},
				"20260101_000000_a.sql":          {Data: []byte("x")},
				"20260101_0000_short.up.sql":     {Data: []byte("x")},
				"20260101_000000_dash-ed.up.sql": {Data: []byte("x")},
			},
			want: []Migration{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadMigrations(tt.fsys)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadMigrations() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("loadMigrations() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
