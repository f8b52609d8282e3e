package database

import "errors"

// Domain errors for the database package.
var (
	// ErrSchemaOutdated is returned by HealthCheck while migrations are pending.
	ErrSchemaOutdated = errors.New("database: schema has pending migrations")

	// ErrNoDownMigration is returned when rolling back a migration that has
	// no .down.sql file.
	ErrNoDownMigration = errors.New("database: migration has no down script")

	// ErrUnknownMigration is returned when the latest applied migration is
	// not among the embedded files.
	ErrUnknownMigration = errors.New("database: applied migration not found")
)
