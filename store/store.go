// Package store is an upsert capable, versioned tabular store. Tables are
// mutated in memory through upserts and deletes, persisted as immutable
// versions by Commit and moved back in time by Checkout.
//
// A Store is single writer and not safe for concurrent use. Two processes
// committing to the same root at once are not guarded against.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/deltabase/connector"
	"github.com/danthegoodman1/deltabase/datastore"
	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/utils"
)

var (
	logger = gologger.NewLogger()
)

type (
	OutputFormat string

	Config struct {
		// Root is a local directory or an s3://bucket/prefix URI
		Root string
		// Discover registers every persisted table at connect time. Defaults to
		// true, remote roots are never scanned.
		Discover *bool
		// DataStore overrides the datastore derived from Root
		DataStore datastore.DataStore
		// MetaStore overrides the file log metastore
		MetaStore metastore.MetaStore
		// Output is the default rendering of SQL results
		Output OutputFormat
		// Threads caps DuckDB worker threads
		Threads int64
		// S3CacheDir is where remote data files are cached for reading
		S3CacheDir string
		Connectors *connector.Registry
	}

	Store struct {
		cfg        Config
		engine     *engine.Engine
		ds         datastore.DataStore
		ms         metastore.MetaStore
		connectors *connector.Registry
		registry   *Registry
		// views currently defined in the engine, schema -> view names
		views map[string]map[string]bool
	}
)

const (
	OutputRecords OutputFormat = "records"
	OutputFrame   OutputFormat = "frame"
)

// Open connects to a local root with the default configuration.
func Open(ctx context.Context, root string) (*Store, error) {
	return Connect(ctx, Config{Root: root})
}

func Connect(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Output {
	case "":
		cfg.Output = OutputRecords
	case OutputRecords, OutputFrame:
	default:
		return nil, invalidArgument("unknown output format %q", cfg.Output)
	}

	ds := cfg.DataStore
	if ds == nil {
		if cfg.Root == "" {
			return nil, invalidArgument("a root is required")
		}
		var err error
		if strings.HasPrefix(cfg.Root, "s3://") {
			ds, err = datastore.NewS3DataStore(cfg.Root, cfg.S3CacheDir)
		} else {
			ds, err = datastore.NewDiskDataStore(cfg.Root)
		}
		if err != nil {
			return nil, storageFailure(err, "error opening root %s", cfg.Root)
		}
	}
	ms := cfg.MetaStore
	if ms == nil {
		ms = metastore.NewLogMetaStore(ds)
	}

	eng, err := engine.Open(ctx, engine.Options{Threads: cfg.Threads})
	if err != nil {
		return nil, storageFailure(err, "error opening engine")
	}

	s := &Store{
		cfg:        cfg,
		engine:     eng,
		ds:         ds,
		ms:         ms,
		connectors: cfg.Connectors,
		registry:   NewRegistry(),
		views:      map[string]map[string]bool{},
	}
	if s.connectors == nil {
		s.connectors = connector.NewRegistry()
	}

	if utils.Deref(cfg.Discover, true) && !ds.Remote() {
		if err := s.discover(ctx); err != nil {
			eng.Close()
			return nil, err
		}
	}
	logger.Debug().Str("root", cfg.Root).Int("tables", len(s.registry.IDs())).Msg("connected store")
	return s, nil
}

// discover registers the latest version of every persisted table.
func (s *Store) discover(ctx context.Context) error {
	ids, err := s.ms.ListTables(ctx)
	if err != nil {
		return storageFailure(err, "error listing tables")
	}
	for _, id := range ids {
		v, err := s.ms.LatestVersion(ctx, id)
		if errors.Is(err, metastore.ErrTableNotFound) {
			continue
		}
		if err != nil {
			return storageFailure(err, "error reading latest version of %s", id)
		}
		if err := s.loadVersion(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Connectors is the registry RegisterFrom resolves names against.
func (s *Store) Connectors() *connector.Registry {
	return s.connectors
}

func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing engine: %w", err))
	}
	if err := s.ms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down metastore: %w", err))
	}
	if err := s.ds.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down datastore: %w", err))
	}
	if err := s.connectors.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
