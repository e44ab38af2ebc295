package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/table"
)

// rowids per DELETE statement
const deleteChunk = 1000

type (
	// Filter selects the rows Delete removes. It is All, an Expr or a RowFunc.
	Filter interface {
		isFilter()
	}

	all struct{}

	// Expr is a boolean SQL expression over the table's columns, evaluated by the engine.
	Expr string

	// RowFunc is called with every row. It is much slower than an Expr.
	RowFunc func(row table.Row) bool
)

// All removes the table from the registry.
var All Filter = all{}

func (all) isFilter()     {}
func (Expr) isFilter()    {}
func (RowFunc) isFilter() {}

// AsFilter resolves a dynamically typed filter. nil and "*" mean All.
func AsFilter(v any) (Filter, error) {
	switch t := v.(type) {
	case nil:
		return All, nil
	case Filter:
		return t, nil
	case string:
		return Expr(t), nil
	case func(table.Row) bool:
		return RowFunc(t), nil
	case func(map[string]any) bool:
		return RowFunc(func(row table.Row) bool { return t(row) }), nil
	}
	return nil, invalidArgument("unsupported filter type %T", v)
}

// Delete removes the rows matching filter from the in-memory entry. All
// unregisters the table; the persisted versions are removed by the next Commit.
func (s *Store) Delete(ctx context.Context, id table.ID, filter Filter) error {
	if filter == nil {
		filter = All
	}
	if e, ok := filter.(Expr); ok && strings.TrimSpace(string(e)) == "*" {
		filter = All
	}
	ctx = gologger.WithTable(ctx, id.Namespace, id.Name)

	prev, ok := s.registry.Get(id)
	if !ok {
		return notFound("table %s is not registered", id)
	}

	var (
		p   engine.Plan
		err error
	)
	switch f := filter.(type) {
	case all:
		s.unregister(ctx, id)
		zerolog.Ctx(ctx).Debug().Msg("unregistered table")
		return nil
	case Expr:
		p, err = s.deleteExpr(ctx, prev, string(f))
	case RowFunc:
		if f == nil {
			return invalidArgument("nil row function")
		}
		p, err = s.deleteRowFunc(ctx, prev, f)
	default:
		return invalidArgument("unsupported filter %T", filter)
	}
	if err != nil {
		return err
	}

	next := *prev
	next.Plan = p
	s.swap(ctx, &next)
	return nil
}

func (s *Store) deleteExpr(ctx context.Context, e *Entry, expr string) (engine.Plan, error) {
	if strings.TrimSpace(expr) == "" {
		return engine.Plan{}, invalidArgument("empty filter expression")
	}
	// rows where the predicate is null survive
	q := fmt.Sprintf("SELECT * FROM %s WHERE NOT COALESCE((%s), false)", e.Plan.SQL(), expr)
	p, err := s.engine.Materialize(ctx, "table", q)
	if err != nil {
		return engine.Plan{}, fmt.Errorf("%w: error evaluating filter %q: %w", ErrInvalidArgument, expr, err)
	}
	return p, nil
}

func (s *Store) deleteRowFunc(ctx context.Context, e *Entry, pred RowFunc) (engine.Plan, error) {
	p, err := s.engine.Materialize(ctx, "table", "SELECT * FROM "+e.Plan.SQL())
	if err != nil {
		return engine.Plan{}, storageFailure(err, "error copying %s", e.ID)
	}

	var doomed []string
	cols, err := s.engine.Scan(ctx, "SELECT rowid, * FROM "+p.SQL(), func(vals []any) error {
		row := make(table.Row, len(vals)-1)
		for i, col := range e.Schema {
			row[col.Name] = vals[i+1]
		}
		if pred(row) {
			doomed = append(doomed, fmt.Sprint(vals[0]))
		}
		return nil
	})
	if err == nil && len(cols) != len(e.Schema)+1 {
		err = fmt.Errorf("scanned %d columns for schema %s", len(cols)-1, e.Schema)
	}
	for start := 0; err == nil && start < len(doomed); start += deleteChunk {
		end := min(start+deleteChunk, len(doomed))
		err = s.engine.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid IN (%s)", p.SQL(), strings.Join(doomed[start:end], ", ")))
	}
	if err != nil {
		s.engine.Drop(ctx, p)
		return engine.Plan{}, storageFailure(err, "error deleting rows of %s", e.ID)
	}
	zerolog.Ctx(ctx).Debug().Int("deleted", len(doomed)).Msg("deleted rows with row function")
	return p, nil
}
