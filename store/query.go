package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/table"
)

// Result is an evaluated query.
type Result struct {
	Frame *engine.Frame
	// Ambiguous is set when the staged tables could not be reconciled into
	// one schema, in which case Frame has no rows
	Ambiguous bool
	Format    OutputFormat
}

func (r *Result) Records() []table.Row {
	return r.Frame.Records()
}

// Value renders the result in the store's configured output format.
func (r *Result) Value() any {
	if r.Format == OutputFrame {
		return r.Frame
	}
	return r.Records()
}

// SQL evaluates query over every registered table, committed or only staged.
// Tables are addressed as namespace.name, tables of the default namespace
// also by their bare name. A query failing on a type conflict between
// staged batches yields an empty Result flagged Ambiguous instead of an error.
func (s *Store) SQL(ctx context.Context, query string) (*Result, error) {
	if err := s.syncViews(ctx); err != nil {
		return nil, err
	}
	frame, err := s.engine.Collect(ctx, query)
	if engine.IsSchemaAmbiguity(err) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("query schema is ambiguous, returning an empty result")
		schema, derr := s.engine.DescribeQuery(ctx, query)
		if derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Msg("error describing ambiguous query, result has no columns")
		}
		return &Result{Frame: &engine.Frame{Schema: schema}, Ambiguous: true, Format: s.cfg.Output}, nil
	}
	if err != nil {
		return nil, queryError(err)
	}
	return &Result{Frame: frame, Format: s.cfg.Output}, nil
}

// SQLLazy returns query as a plan without evaluating it. The plan reads the
// registered tables as they are when it is evaluated.
func (s *Store) SQLLazy(ctx context.Context, query string) (engine.Plan, error) {
	if err := s.syncViews(ctx); err != nil {
		return engine.Plan{}, err
	}
	if _, err := s.engine.DescribeQuery(ctx, query); err != nil {
		if engine.IsSchemaAmbiguity(err) {
			return engine.Plan{}, fmt.Errorf("%w: %w", ErrQuerySchemaAmbiguous, err)
		}
		return engine.Plan{}, queryError(err)
	}
	return engine.Query(query), nil
}

func queryError(err error) error {
	if engine.IsMissingRelation(err) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: error in query: %w", ErrInvalidArgument, err)
}

// syncViews points one view per registered table at its current plan and
// drops the views of unregistered tables.
func (s *Store) syncViews(ctx context.Context) error {
	want := map[string]map[string]bool{}
	add := func(schema, name string) {
		if want[schema] == nil {
			want[schema] = map[string]bool{}
		}
		want[schema][name] = true
	}

	for _, id := range s.registry.IDs() {
		e, _ := s.registry.Get(id)
		if err := s.engine.ReplaceView(ctx, id.Namespace, id.Name, e.Plan); err != nil {
			return storageFailure(err, "error creating view for %s", id)
		}
		add(id.Namespace, id.Name)
		if id.Namespace == table.DefaultNamespace {
			if err := s.engine.ReplaceView(ctx, "main", id.Name, e.Plan); err != nil {
				return storageFailure(err, "error creating view for %s", id)
			}
			add("main", id.Name)
		}
	}

	for schema, names := range s.views {
		for name := range names {
			if want[schema][name] {
				continue
			}
			if err := s.engine.DropView(ctx, schema, name); err != nil {
				return storageFailure(err, "error dropping view %s.%s", schema, name)
			}
		}
	}
	s.views = want
	return nil
}

// RegisterFrom registers the rows a named connector returns for query as the table's content.
func (s *Store) RegisterFrom(ctx context.Context, connectorName string, id table.ID, query string) error {
	c, ok := s.connectors.Get(connectorName)
	if !ok {
		return notFound("connector %q is not registered", connectorName)
	}
	rows, err := c.Fetch(ctx, query)
	if err != nil {
		return storageFailure(err, "error fetching from connector %s", connectorName)
	}
	if len(rows) == 0 {
		return invalidArgument("connector %s returned no rows", connectorName)
	}
	in, err := AsInput(rows)
	if err != nil {
		return err
	}
	return s.Register(ctx, id, RegisterOptions{Data: in})
}
