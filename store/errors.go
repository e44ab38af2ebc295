package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a table or version is absent where one is required.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for unsupported data, filter or selector shapes,
	// and for expressions or keys the engine rejects.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSchemaMismatch is returned when a commit without force would drop or retype a column.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrStorageFailure wraps datastore, metastore and engine write failures.
	ErrStorageFailure = errors.New("storage failure")
	// ErrQuerySchemaAmbiguous is reported by SQLLazy. SQL degrades to an empty result instead.
	ErrQuerySchemaAmbiguous = errors.New("query schema ambiguous")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func storageFailure(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, fmt.Sprintf(format, args...), err)
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
