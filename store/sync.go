package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/table"
)

const ordColumn = "__delta_ord"

// Upsert merges data into the table on key. Matching rows are merged field by
// field with non null incoming values winning, other incoming rows are
// inserted and other existing rows are kept. New columns from either side are
// added. Only the in-memory entry changes.
//
// When several incoming rows share a key only the last one is merged.
func (s *Store) Upsert(ctx context.Context, id table.ID, key string, data Input) error {
	if err := id.Validate(); err != nil {
		return invalidArgument("%s", err)
	}
	if key == "" {
		return invalidArgument("a merge key is required")
	}
	ctx = gologger.WithTable(ctx, id.Namespace, id.Name)

	prev, exists := s.registry.Get(id)
	if b, ok := data.(Batch); ok && len(b) == 0 {
		if exists {
			return nil
		}
		return invalidArgument("no records given")
	}

	var hint table.Schema
	if exists {
		hint = prev.Schema
	}
	incoming, inSchema, err := s.stage(ctx, data, hint)
	if err != nil {
		return err
	}
	defer s.engine.Drop(ctx, incoming)
	if !inSchema.Has(key) {
		return invalidArgument("merge key %q is not a column of the incoming records", key)
	}
	deduped := lastPerKey(incoming, key)

	if !exists {
		// the batch becomes the table
		p, err := s.engine.Materialize(ctx, "table", "SELECT * FROM "+deduped.SQL())
		if err != nil {
			return fmt.Errorf("%w: error creating %s: %w", ErrInvalidArgument, id, err)
		}
		s.swap(ctx, &Entry{ID: id, Plan: p, Schema: inSchema})
		zerolog.Ctx(ctx).Debug().Msg("created table from upsert")
		return nil
	}

	baseline, baseSchema, version, err := s.baseline(ctx, prev, key)
	if err != nil {
		return err
	}
	if !baseSchema.Has(key) {
		return invalidArgument("merge key %q is not a column of %s", key, id)
	}

	p, err := s.engine.Materialize(ctx, "table", syncQuery(deduped, inSchema, baseline, baseSchema, key))
	if err != nil {
		return fmt.Errorf("%w: error merging into %s: %w", ErrInvalidArgument, id, err)
	}
	schema, err := s.engine.Describe(ctx, p)
	if err != nil {
		s.engine.Drop(ctx, p)
		return storageFailure(err, "error describing merged %s", id)
	}
	s.swap(ctx, &Entry{ID: id, Plan: p, Schema: schema, Version: version})
	zerolog.Ctx(ctx).Debug().Str("key", key).Int("columns", len(schema)).Msg("upserted")
	return nil
}

// baseline returns what incoming rows are merged against. An entry registered
// from data is first merged over the latest persisted version, so staged rows
// win over persisted ones and persisted rows are not lost.
func (s *Store) baseline(ctx context.Context, e *Entry, key string) (engine.Plan, table.Schema, *int64, error) {
	if !e.reconcile {
		return e.Plan, e.Schema, e.Version, nil
	}
	v, err := s.ms.LatestVersion(ctx, e.ID)
	if errors.Is(err, metastore.ErrTableNotFound) {
		return e.Plan, e.Schema, e.Version, nil
	}
	if err != nil {
		return engine.Plan{}, nil, nil, storageFailure(err, "error reading latest version of %s", e.ID)
	}
	persisted, err := s.versionPlan(ctx, v)
	if err != nil {
		return engine.Plan{}, nil, nil, err
	}
	persistedSchema := v.Schema()
	if !e.Schema.Has(key) || !persistedSchema.Has(key) {
		return engine.Plan{}, nil, nil, invalidArgument("merge key %q is not a column of %s", key, e.ID)
	}
	merged := engine.Query(syncQuery(e.Plan, e.Schema, persisted, persistedSchema, key))
	n := v.Version
	zerolog.Ctx(ctx).Debug().Int64("version", n).Msg("reconciling registered data with persisted version")
	return merged, e.Schema.Union(persistedSchema), &n, nil
}

// lastPerKey keeps the last row of each key of a staged plan, rows with a null key are all kept.
func lastPerKey(p engine.Plan, key string) engine.Plan {
	k := engine.QuoteIdent(key)
	ord := engine.QuoteIdent(ordColumn)
	return engine.Query(fmt.Sprintf(
		"SELECT * EXCLUDE (%s) FROM (SELECT *, rowid AS %s FROM %s) QUALIFY %s IS NULL OR row_number() OVER (PARTITION BY %s ORDER BY %s DESC) = 1",
		ord, ord, p.SQL(), k, k, ord,
	))
}

// syncQuery full outer joins incoming and baseline on key and coalesces
// every shared column, incoming first. Baseline columns keep their order,
// novel incoming columns follow.
func syncQuery(incoming engine.Plan, inSchema table.Schema, baseline engine.Plan, baseSchema table.Schema, key string) string {
	var cols []string
	for _, col := range baseSchema {
		c := engine.QuoteIdent(col.Name)
		if inSchema.Has(col.Name) {
			cols = append(cols, fmt.Sprintf("COALESCE(i.%s, b.%s) AS %s", c, c, c))
		} else {
			cols = append(cols, fmt.Sprintf("b.%s AS %s", c, c))
		}
	}
	for _, col := range inSchema {
		if !baseSchema.Has(col.Name) {
			c := engine.QuoteIdent(col.Name)
			cols = append(cols, fmt.Sprintf("i.%s AS %s", c, c))
		}
	}
	k := engine.QuoteIdent(key)
	return fmt.Sprintf("SELECT %s FROM %s AS i FULL OUTER JOIN %s AS b ON i.%s = b.%s",
		strings.Join(cols, ", "), incoming.SQL(), baseline.SQL(), k, k)
}
