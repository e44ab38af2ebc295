package datastore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/danthegoodman1/deltabase/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrNotExist = errors.New("key does not exist")
	ErrExists   = errors.New("key already exists")
)

type (
	// DataStore is the byte storage under a store root. Keys are slash
	// separated and relative to the root.
	DataStore interface {
		// WriteFile creates or replaces key
		WriteFile(ctx context.Context, key string, r io.Reader) (int64, error)
		// CreateFile writes key only if nothing exists there yet, ErrExists otherwise
		CreateFile(ctx context.Context, key string, data []byte) error
		ReadFile(ctx context.Context, key string) ([]byte, error)
		// LocalPath returns a local filesystem path the query engine can read key from
		LocalPath(ctx context.Context, key string) (string, error)

		// ListDirs lists the names of the immediate child directories of prefix
		ListDirs(ctx context.Context, prefix string) ([]string, error)
		// ListFiles lists the keys of the files directly inside prefix
		ListFiles(ctx context.Context, prefix string) ([]string, error)
		// Exists reports whether any key sits at or under prefix
		Exists(ctx context.Context, prefix string) (bool, error)
		DeletePrefix(ctx context.Context, prefix string) error

		// Remote is true for network addressed roots, which are never scanned at connect time
		Remote() bool
		Shutdown(ctx context.Context) error
	}
)

// Join builds a key from its parts.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}
