package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	msPerSecond = 1000

	// openPingTimeout bounds the connectivity check in Open.
	openPingTimeout = 5 * time.Second
)

// DB is the recorder database: a single-writer SQLite pool plus the path
// it was opened from.
type DB struct {
	*sql.DB
	path string
}

// Config selects the database file and its locking behaviour.
type Config struct {
	// Path of the SQLite file. Missing parent directories are created.
	Path string

	// WALMode switches the journal to write-ahead logging so API listings
	// can read while the recorder writes.
	WALMode bool

	// BusyTimeout is how long a statement waits on a lock, in seconds.
	BusyTimeout int
}

// FromConfig converts the database section of config.yaml.
func FromConfig(cfg config.DatabaseConfig) Config {
	return Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	}
}

// dsn builds the go-sqlite3 connection string for cfg.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*msPerSecond))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the SQLite file at cfg.Path and checks
// that it answers.
//
// Parameters:
//   - cfg: Database location and pragmas
//
// Returns:
//   - *DB: Open database with a single connection
//   - error: If the directory cannot be created or the file cannot be opened
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database: no path configured")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("database: creating directory: %w", err)
	}

	pool, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}
	// One connection serialises the recorder's writes; WAL still lets
	// readers through between statements.
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		pool.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}

	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // sqlite may create the file on first write

	return &DB{DB: pool, path: cfg.Path}, nil
}

// Close closes the pool. Closing a DB with no pool is a no-op.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("database: closing: %w", err)
	}
	return nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query so a locked or vanished file shows up
// in health reports.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}
