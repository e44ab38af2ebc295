package store

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/table"
)

type (
	// Entry is the in-memory state of one table. Entries are immutable once
	// stored: every mutation swaps in a new Entry.
	Entry struct {
		ID     table.ID
		Plan   engine.Plan
		Schema table.Schema
		// Version is the persisted version the plan descends from, nil if none
		Version *int64
		// reconcile is set when the plan was registered from data and has not
		// been merged with the latest persisted version yet
		reconcile bool
	}

	// Registry maps table IDs to their current entry. Each Store owns one.
	Registry struct {
		entries map[table.ID]*Entry
	}
)

func NewRegistry() *Registry {
	return &Registry{entries: map[table.ID]*Entry{}}
}

func (r *Registry) Get(id table.ID) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// put swaps in e and returns the entry it replaced.
func (r *Registry) put(e *Entry) *Entry {
	prev := r.entries[e.ID]
	r.entries[e.ID] = e
	return prev
}

func (r *Registry) remove(id table.ID) *Entry {
	prev := r.entries[id]
	delete(r.entries, id)
	return prev
}

// IDs lists the registered tables ordered by namespace then name.
func (r *Registry) IDs() []table.ID {
	ids := make([]table.ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Namespace != ids[j].Namespace {
			return ids[i].Namespace < ids[j].Namespace
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}

// Tables lists every registered table.
func (s *Store) Tables() []table.ID {
	return s.registry.IDs()
}

// Schema returns the schema last registered for id.
func (s *Store) Schema(id table.ID) (table.Schema, bool) {
	e, ok := s.registry.Get(id)
	if !ok {
		return nil, false
	}
	return e.Schema, true
}

// swap stores e and releases the staging table of the entry it replaced.
func (s *Store) swap(ctx context.Context, e *Entry) {
	prev := s.registry.put(e)
	s.release(ctx, prev, e.Plan)
}

func (s *Store) unregister(ctx context.Context, id table.ID) {
	s.release(ctx, s.registry.remove(id), engine.Plan{})
}

func (s *Store) release(ctx context.Context, prev *Entry, keep engine.Plan) {
	if prev == nil || !prev.Plan.Staged() || prev.Plan == keep {
		return
	}
	if err := s.engine.Drop(ctx, prev.Plan); err != nil {
		// the entry is already swapped, a leaked staging table only costs memory
		zerolog.Ctx(ctx).Warn().Err(err).Str("table", prev.ID.String()).Msg("error dropping replaced staging table")
	}
}

// loadVersion registers the content of v as the entry of its table.
func (s *Store) loadVersion(ctx context.Context, v metastore.Version) error {
	p, err := s.versionPlan(ctx, v)
	if err != nil {
		return err
	}
	n := v.Version
	s.swap(ctx, &Entry{
		ID:      v.ID(),
		Plan:    p,
		Schema:  v.Schema(),
		Version: &n,
	})
	zerolog.Ctx(ctx).Debug().Str("table", v.ID().String()).Int64("version", v.Version).Msg("loaded version")
	return nil
}

// versionPlan returns a lazy read of exactly the files of v.
func (s *Store) versionPlan(ctx context.Context, v metastore.Version) (engine.Plan, error) {
	files := make([]string, 0, len(v.Parts))
	for _, key := range v.Keys() {
		path, err := s.ds.LocalPath(ctx, key)
		if err != nil {
			return engine.Plan{}, storageFailure(err, "error resolving data file %s", key)
		}
		files = append(files, path)
	}
	return engine.ReadParquet(files, v.Columns), nil
}
