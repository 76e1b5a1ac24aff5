package storage

import "errors"

var (
	// ErrNotFound reports a missing entity, replacing sql.ErrNoRows /
	// pgx.ErrNoRows at the storage boundary.
	ErrNotFound = errors.New("storage: entity not found")

	// ErrConflict reports a failed optimistic transition: the row's
	// status no longer matched the caller's expected precondition.
	ErrConflict = errors.New("storage: concurrent modification detected")

	// ErrSchemaOutOfDate reports that the connected database's migration
	// version is behind what this binary requires.
	ErrSchemaOutOfDate = errors.New("storage: schema version out of date")
)
