package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/deltabase/connector"
	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

var people = table.Default("people")

func openStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	s, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close(context.Background())
	})
	return s
}

func query(t *testing.T, s *Store, q string) []table.Row {
	t.Helper()
	res, err := s.SQL(context.Background(), q)
	require.NoError(t, err)
	require.False(t, res.Ambiguous)
	return res.Records()
}

func upsert(t *testing.T, s *Store, id table.ID, rows ...table.Row) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), id, "id", Batch(rows)))
}

func TestConnectDiscover(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1, "name": "edward"})
	orders := table.ID{Namespace: "sales", Name: "orders"}
	upsert(t, s, orders, table.Row{"id": 10, "total": 2.5})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	require.NoError(t, s.Commit(ctx, orders, CommitOptions{}))

	discovered := openStore(t, Config{Root: root})
	assert.Equal(t, []table.ID{people, orders}, discovered.Tables())
	schema, ok := discovered.Schema(people)
	require.True(t, ok)
	assert.Equal(t, table.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "VARCHAR"}}, schema)

	rows := query(t, discovered, "SELECT * FROM sales.orders")
	require.Len(t, rows, 1)
	assert.Equal(t, 2.5, rows[0]["total"])

	quiet := openStore(t, Config{Root: root, Discover: utils.Ptr(false)})
	assert.Empty(t, quiet.Tables())
	_, ok = quiet.Schema(people)
	assert.False(t, ok)

	// explicit register loads the latest version
	require.NoError(t, quiet.Register(ctx, people, RegisterOptions{}))
	rows = query(t, quiet, "SELECT name FROM people")
	require.Len(t, rows, 1)
	assert.Equal(t, "edward", rows[0]["name"])

	err := quiet.Register(ctx, table.Default("missing"), RegisterOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConnectInvalid(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = Connect(context.Background(), Config{Root: t.TempDir(), Output: "polars"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestIndependentStores(t *testing.T) {
	a := openStore(t, Config{})
	b := openStore(t, Config{})
	upsert(t, a, people, table.Row{"id": 1})
	assert.Len(t, a.Tables(), 1)
	assert.Empty(t, b.Tables())
}

func TestRegisterData(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})

	err := s.Register(ctx, people, RegisterOptions{Data: Batch{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}}})
	require.NoError(t, err)
	assert.Len(t, query(t, s, "SELECT * FROM people"), 2)

	// whole entry replaced
	err = s.Register(ctx, people, RegisterOptions{Data: Single{"id": 3, "job": "x"}})
	require.NoError(t, err)
	schema, _ := s.Schema(people)
	assert.Equal(t, []string{"id", "job"}, schema.Names())
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)

	err = s.Register(ctx, table.ID{Namespace: "main", Name: "x"}, RegisterOptions{Data: Single{"id": 1}})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestRegisterReconcilesWithPersisted(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"}, table.Row{"id": 2, "name": "b"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	s = openStore(t, Config{Root: root, Discover: utils.Ptr(false)})
	require.NoError(t, s.Register(ctx, people, RegisterOptions{Data: Single{"id": 2, "name": "B"}}))
	upsert(t, s, people, table.Row{"id": 3, "name": "c"})

	rows := query(t, s, "SELECT id, name FROM people ORDER BY id")
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0]["name"])
	assert.Equal(t, "B", rows[1]["name"])
	assert.Equal(t, "c", rows[2]["name"])
}

func TestRegisterVersion(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	upsert(t, s, people, table.Row{"id": 2, "name": "b"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	require.NoError(t, s.Register(ctx, people, RegisterOptions{Version: AtVersion(0)}))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)

	err := s.Register(ctx, people, RegisterOptions{Version: AtVersion(5)})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLNamespaces(t *testing.T) {
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1})
	upsert(t, s, table.ID{Namespace: "sales", Name: "people"}, table.Row{"id": 1}, table.Row{"id": 2})

	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)
	assert.Len(t, query(t, s, `SELECT * FROM "default".people`), 1)
	assert.Len(t, query(t, s, "SELECT * FROM sales.people"), 2)

	rows := query(t, s, "SELECT count(*) AS n FROM people p JOIN sales.people sp ON p.id = sp.id")
	assert.EqualValues(t, 1, rows[0]["n"])

	_, err := s.SQL(context.Background(), "SELECT * FROM nobody")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.SQL(context.Background(), "SELEC 1")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSQLAmbiguousDegrades(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, table.Default("a"), table.Row{"id": 1, "name": "x"})
	upsert(t, s, table.Default("b"), table.Row{"id": 1})

	res, err := s.SQL(ctx, "SELECT * FROM a UNION ALL SELECT * FROM b")
	require.NoError(t, err)
	assert.True(t, res.Ambiguous)
	require.NotNil(t, res.Frame)
	assert.Empty(t, res.Records())
	assert.Equal(t, []table.Row{}, utils.ArrayOrEmpty(res.Records()))

	_, err = s.SQLLazy(ctx, "SELECT * FROM a UNION ALL SELECT * FROM b")
	assert.True(t, errors.Is(err, ErrQuerySchemaAmbiguous))
}

func TestSQLCastFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "abc"})

	res, err := s.SQL(ctx, "SELECT CAST(name AS INTEGER) AS n FROM people")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	// binding succeeds, the cast only fails when evaluated
	_, err = s.SQLLazy(ctx, "SELECT CAST(name AS INTEGER) AS n FROM people")
	require.NoError(t, err)
}

func TestSQLLazyAsInput(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"}, table.Row{"id": 2, "name": "b"})

	p, err := s.SQLLazy(ctx, "SELECT id, upper(name) AS name FROM people WHERE id = 2")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, people, "id", Tabular{Plan: p}))

	rows := query(t, s, "SELECT name FROM people ORDER BY id")
	assert.Equal(t, "a", rows[0]["name"])
	assert.Equal(t, "B", rows[1]["name"])
}

func TestSQLViewsFollowRegistry(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1})
	query(t, s, "SELECT * FROM people")

	require.NoError(t, s.Delete(ctx, people, All))
	_, err := s.SQL(ctx, "SELECT * FROM people")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOutputFormat(t *testing.T) {
	s := openStore(t, Config{Output: OutputFrame})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"})
	res, err := s.SQL(context.Background(), "SELECT id, name FROM people")
	require.NoError(t, err)
	frame, ok := res.Value().(*engine.Frame)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, frame.Schema.Names())
	assert.Equal(t, []any{"a"}, frame.Column("name"))

	s = openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1})
	res, err = s.SQL(context.Background(), "SELECT id FROM people")
	require.NoError(t, err)
	_, ok = res.Value().([]table.Row)
	assert.True(t, ok)
}

type staticConnector []table.Row

func (c staticConnector) Fetch(context.Context, string) ([]table.Row, error) {
	return c, nil
}

func TestRegisterFrom(t *testing.T) {
	ctx := context.Background()
	reg := connector.NewRegistry()
	require.NoError(t, reg.Register("crm", staticConnector{
		{"id": 1, "account": map[string]any{"name": "acme"}},
	}))
	require.NoError(t, reg.Register("empty", staticConnector{}))
	s := openStore(t, Config{Connectors: reg})

	accounts := table.ID{Namespace: "crm", Name: "accounts"}
	require.NoError(t, s.RegisterFrom(ctx, "crm", accounts, "SELECT Id FROM Account"))
	schema, ok := s.Schema(accounts)
	require.True(t, ok)
	assert.Len(t, schema, 2)
	assert.True(t, schema.Has("id"))
	// the nested account object became a flat column
	for _, col := range schema {
		if col.Name != "id" {
			assert.Equal(t, "VARCHAR", col.Type)
		}
	}
	assert.Len(t, query(t, s, "SELECT * FROM crm.accounts"), 1)

	err := s.RegisterFrom(ctx, "warehouse", accounts, "")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = s.RegisterFrom(ctx, "empty", accounts, "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestCommitRootLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	matches, err := filepath.Glob(filepath.Join(root, "default", "people", "_delta_log", "*.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "default", "people", "_delta_log", "00000000000000000000.json")}, matches)

	files, err := filepath.Glob(filepath.Join(root, "default", "people", "v0", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
