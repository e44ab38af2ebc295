// Package engine adapts an embedded DuckDB database into the relational
// operations the store is built on: lazy plans, schema introspection,
// materialization, filtering and collection.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

// StageSchema holds every relation the engine materializes.
const StageSchema = "_stage"

var (
	logger = gologger.NewLogger()
)

type (
	Engine struct {
		db *sql.DB
	}

	Options struct {
		// Threads caps DuckDB worker threads, 0 keeps the DuckDB default.
		Threads int64
	}
)

// Open starts an in-memory DuckDB instance. The pool is pinned to a single
// connection: the store is single writer and operations run one at a time.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("error in sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	e := &Engine{db: db}
	if opts.Threads > 0 {
		if err := e.Exec(ctx, fmt.Sprintf("SET threads = %d", opts.Threads)); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := e.EnsureSchema(ctx, StageSchema); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug().Int64("threads", opts.Threads).Msg("opened duckdb engine")
	return e, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("error executing %q: %w", abbreviate(stmt), err)
	}
	return nil
}

func (e *Engine) EnsureSchema(ctx context.Context, name string) error {
	return e.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(name))
}

// Describe returns the ordered output schema of p without evaluating it.
func (e *Engine) Describe(ctx context.Context, p Plan) (table.Schema, error) {
	return e.DescribeQuery(ctx, "SELECT * FROM "+p.SQL())
}

func (e *Engine) DescribeQuery(ctx context.Context, query string) (table.Schema, error) {
	rows, err := e.db.QueryContext(ctx, "DESCRIBE "+query)
	if err != nil {
		return nil, fmt.Errorf("error describing %q: %w", abbreviate(query), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error in rows.Columns: %w", err)
	}
	var schema table.Schema
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		// column_name, column_type, null, key, default, extra
		schema = append(schema, table.Column{
			Name: fmt.Sprint(vals[0]),
			Type: fmt.Sprint(vals[1]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error describing %q: %w", abbreviate(query), err)
	}
	return schema, nil
}

// Materialize evaluates query into a new staging table and returns a plan over it.
func (e *Engine) Materialize(ctx context.Context, prefix, query string) (Plan, error) {
	name := stageName(prefix)
	stmt := fmt.Sprintf("CREATE TABLE %s.%s AS %s", QuoteIdent(StageSchema), QuoteIdent(name), query)
	if err := e.Exec(ctx, stmt); err != nil {
		return Plan{}, err
	}
	return stagedPlan(name), nil
}

// FromRows creates a staging table with the given schema and appends rows,
// which must hold values matching the column types positionally.
func (e *Engine) FromRows(ctx context.Context, prefix string, schema table.Schema, rows [][]any) (Plan, error) {
	if len(schema) == 0 {
		return Plan{}, fmt.Errorf("cannot create a relation without columns")
	}
	name := stageName(prefix)
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = QuoteIdent(col.Name) + " " + col.Type
	}
	stmt := fmt.Sprintf("CREATE TABLE %s.%s (%s)", QuoteIdent(StageSchema), QuoteIdent(name), strings.Join(defs, ", "))
	if err := e.Exec(ctx, stmt); err != nil {
		return Plan{}, err
	}
	p := stagedPlan(name)
	if len(rows) == 0 {
		return p, nil
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("error in db.Conn: %w", err)
	}
	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, StageSchema, name)
		if err != nil {
			return fmt.Errorf("error in duckdb.NewAppenderFromConn: %w", err)
		}
		for i, row := range rows {
			vals := make([]driver.Value, len(row))
			for j, v := range row {
				vals[j] = v
			}
			if err := appender.AppendRow(vals...); err != nil {
				appender.Close()
				return fmt.Errorf("error appending row %d: %w", i, err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("error flushing appender: %w", err)
		}
		return nil
	})
	conn.Close()
	if err != nil {
		_ = e.Drop(ctx, p)
		return Plan{}, err
	}
	return p, nil
}

// Drop removes the staging table behind p. Plans that do not own a staging table are left alone.
func (e *Engine) Drop(ctx context.Context, p Plan) error {
	if !p.Staged() {
		return nil
	}
	return e.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", QuoteIdent(StageSchema), QuoteIdent(p.staged)))
}

// ReplaceView points schema.name at p.
func (e *Engine) ReplaceView(ctx context.Context, schema, name string, p Plan) error {
	if err := e.EnsureSchema(ctx, schema); err != nil {
		return err
	}
	return e.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM %s", QuoteIdent(schema), QuoteIdent(name), p.SQL()))
}

func (e *Engine) DropView(ctx context.Context, schema, name string) error {
	return e.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s.%s", QuoteIdent(schema), QuoteIdent(name)))
}

// Scan streams the rows of query into fn. The slice passed to fn is reused between calls.
func (e *Engine) Scan(ctx context.Context, query string, fn func(vals []any) error) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying %q: %w", abbreviate(query), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error in rows.Columns: %w", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return cols, fmt.Errorf("error in rows.Scan: %w", err)
		}
		if err := fn(vals); err != nil {
			return cols, err
		}
	}
	if err := rows.Err(); err != nil {
		return cols, fmt.Errorf("error iterating %q: %w", abbreviate(query), err)
	}
	return cols, nil
}

// Collect evaluates query fully into a Frame.
func (e *Engine) Collect(ctx context.Context, query string) (*Frame, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying %q: %w", abbreviate(query), err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("error in rows.ColumnTypes: %w", err)
	}
	f := &Frame{Schema: make(table.Schema, len(colTypes))}
	for i, ct := range colTypes {
		f.Schema[i] = table.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}
	for rows.Next() {
		vals := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		f.Rows = append(f.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %q: %w", abbreviate(query), err)
	}
	return f, nil
}

// Count returns the number of rows p evaluates to.
func (e *Engine) Count(ctx context.Context, p Plan) (int64, error) {
	var n int64
	if err := e.db.QueryRowContext(ctx, "SELECT count(*) FROM "+p.SQL()).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting rows: %w", err)
	}
	return n, nil
}

// IsSchemaAmbiguity reports whether err is the binder refusing to reconcile the
// columns of combined relations. Runtime cast failures are not ambiguity.
func IsSchemaAmbiguity(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"Mismatch Type Error",
		"Cannot mix values of type",
		"Set operations can only apply to expressions with the same number of result columns",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsMissingRelation reports whether err is DuckDB failing to resolve a table, view or schema.
func IsMissingRelation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Catalog Error") && strings.Contains(msg, "does not exist")
}

func stageName(prefix string) string {
	return prefix + "_" + utils.GenRandomShortID()
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
