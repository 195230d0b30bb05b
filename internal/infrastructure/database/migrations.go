package database

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

// migrationFile matches YYYYMMDD_HHMMSS_description.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

var (
	sourceMu sync.RWMutex
	source   fs.FS
)

// RegisterMigrations sets the filesystem migrations are read from. The
// migrations package registers its embedded files at init; tests register
// their own. Files must sit at the root of fsys.
func RegisterMigrations(fsys fs.FS) {
	sourceMu.Lock()
	source = fsys
	sourceMu.Unlock()
}

func registeredMigrations() fs.FS {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return source
}

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string // empty when the migration cannot be rolled back
}

// MigrationState is a migration and, once applied, when it was applied.
type MigrationState struct {
	Migration
	AppliedAt time.Time
}

// Applied reports whether the migration is recorded in schema_migrations.
func (s MigrationState) Applied() bool {
	return !s.AppliedAt.IsZero()
}

// Migrate applies every pending migration in version order. Each one runs
// in its own transaction; a failure stops at that migration and leaves the
// earlier ones committed.
func (db *DB) Migrate(ctx context.Context) error {
	states, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, st := range states {
		if st.Applied() {
			continue
		}
		if err := db.step(ctx, st.Version, st.Up, true); err != nil {
			return fmt.Errorf("database: applying %s_%s: %w", st.Version, st.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest steps applied migrations, newest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - steps: How many migrations to revert (at least 1)
//
// Returns:
//   - []Migration: The migrations reverted, in the order they were reverted
//   - error: ErrUnknownMigration or ErrIrreversible before anything is
//     changed, or the SQL error of the failing step
func (db *DB) Rollback(ctx context.Context, steps int) ([]Migration, error) {
	if steps < 1 {
		return nil, fmt.Errorf("database: rollback steps must be at least 1, got %d", steps)
	}

	states, err := db.MigrationStatus(ctx)
	if err != nil {
		return nil, err
	}

	var targets []Migration
	for _, st := range slices.Backward(states) {
		if len(targets) == steps {
			break
		}
		if !st.Applied() {
			continue
		}
		switch {
		case st.Up == "":
			return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, st.Version)
		case st.Down == "":
			return nil, fmt.Errorf("%w: %s_%s", ErrIrreversible, st.Version, st.Name)
		}
		targets = append(targets, st.Migration)
	}

	var done []Migration
	for _, m := range targets {
		if err := db.step(ctx, m.Version, m.Down, false); err != nil {
			return done, fmt.Errorf("database: reverting %s_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// MigrationStatus lists every known migration with its applied time.
// Versions recorded in the database but missing from the registered files
// are included with an empty Name, Up and Down.
func (db *DB) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("database: creating schema_migrations: %w", err)
	}

	migrations, err := loadMigrations(registeredMigrations())
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		states = append(states, MigrationState{Migration: m, AppliedAt: applied[m.Version]})
		delete(applied, m.Version)
	}
	for version, at := range applied {
		states = append(states, MigrationState{Migration: Migration{Version: version}, AppliedAt: at})
	}
	slices.SortFunc(states, func(a, b MigrationState) int {
		return strings.Compare(a.Version, b.Version)
	})
	return states, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("database: reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("database: reading schema_migrations: %w", err)
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("database: version %s has applied_at %q: %w", version, at, err)
		}
		applied[version] = t
	}
	return applied, rows.Err()
}

// step runs one migration script and records (up) or forgets (down) its
// version in the same transaction.
func (db *DB) step(ctx context.Context, version, script string, up bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if up {
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339))
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// loadMigrations reads the migration pairs at the root of fsys, sorted by
// version. A nil fsys has no migrations. Files that do not follow the
// naming scheme are ignored.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("database: listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		parts := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || parts == nil {
			continue
		}
		version, name, direction := parts[1], parts[2], parts[3]

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("database: version %s has files named %q and %q", version, m.Name, name)
		}

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("database: reading %s: %w", e.Name(), err)
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("database: version %s_%s has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	return migrations, nil
}

