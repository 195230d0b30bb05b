package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

// openTestDB opens a fresh database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "bus.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "var", "lib", "knxnetip", "bus.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_NoPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
		not  []string
	}{
		{
			name: "wal",
			cfg:  Config{Path: "/tmp/bus.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/tmp/bus.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
		{
			name: "rollback journal",
			cfg:  Config{Path: "bus.db", BusyTimeout: 1},
			want: []string{"_busy_timeout=1000"},
			not:  []string{"_journal_mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.dsn()
			for _, w := range tt.want {
				if !strings.Contains(dsn, w) {
					t.Errorf("dsn %q missing %q", dsn, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(dsn, n) {
					t.Errorf("dsn %q contains %q", dsn, n)
				}
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.DB.Close(); err != nil {
		t.Fatalf("closing pool: %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on closed pool should fail")
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := db.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := (&DB{}).Close(); err != nil {
		t.Errorf("Close() without pool error = %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.DatabaseConfig{Enabled: true, Path: "/var/lib/knxnetip/bus.db", WALMode: true, BusyTimeout: 7})
	want := Config{Path: "/var/lib/knxnetip/bus.db", WALMode: true, BusyTimeout: 7}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}
