package database

import "errors"

var (
	// ErrUnknownMigration is returned when schema_migrations records a
	// version with no registered files.
	ErrUnknownMigration = errors.New("database: applied migration has no files")

	// ErrIrreversible is returned when rolling back a migration that has
	// no down script.
	ErrIrreversible = errors.New("database: migration has no down script")
)
