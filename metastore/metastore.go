package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/part"
	"github.com/danthegoodman1/deltabase/table"
)

var (
	logger = gologger.NewLogger()

	ErrTableNotFound   = errors.New("table has no versions")
	ErrVersionNotFound = errors.New("version not found")
	// ErrVersionExists is returned when the ordinal was already taken, or would leave a gap
	ErrVersionExists = errors.New("version already exists")
)

const (
	OperationWrite = "WRITE"
)

type (
	// MetaStore is the append only version log of every table.
	MetaStore interface {
		// ListTables lists every table with at least one version
		ListTables(ctx context.Context) ([]table.ID, error)
		// ListVersions lists the versions of a table in ascending order
		ListVersions(ctx context.Context, id table.ID) ([]Version, error)
		GetVersion(ctx context.Context, id table.ID, version int64) (Version, error)
		LatestVersion(ctx context.Context, id table.ID) (Version, error)

		// CommitVersion appends v. v.Version must be exactly one past the latest version, or 0 for a new table.
		CommitVersion(ctx context.Context, v Version) error
		// DeleteTable drops the whole version log of a table
		DeleteTable(ctx context.Context, id table.ID) error

		Shutdown(ctx context.Context) error
	}

	Version struct {
		Namespace   string
		Table       string
		Version     int64
		CommittedAt time.Time
		Operation   string
		// Tag is an optional caller supplied label that checkout can select by
		Tag   string `json:",omitempty"`
		Force bool
		// Columns is the logical schema in display order with its physical mapping
		Columns     []part.ColumnMapping
		PartitionBy []string `json:",omitempty"`
		Parts       []part.Part
	}
)

func (v Version) ID() table.ID {
	return table.ID{Namespace: v.Namespace, Name: v.Table}
}

func (v Version) Schema() table.Schema {
	schema := make(table.Schema, len(v.Columns))
	for i, c := range v.Columns {
		schema[i] = table.Column{Name: c.Name, Type: c.Type}
	}
	return schema
}

// Keys lists the datastore keys of the version's data files.
func (v Version) Keys() []string {
	keys := make([]string, len(v.Parts))
	for i, p := range v.Parts {
		keys[i] = p.Key
	}
	return keys
}

func (v Version) RowCount() int64 {
	return part.TotalRows(v.Parts)
}

func (v Version) Validate() error {
	if err := v.ID().Validate(); err != nil {
		return err
	}
	if v.Version < 0 {
		return fmt.Errorf("negative version %d", v.Version)
	}
	if len(v.Columns) == 0 {
		return fmt.Errorf("version %d of %s has no columns", v.Version, v.ID())
	}
	return nil
}
