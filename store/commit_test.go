package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

func TestVersionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 5, "name": "edward"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	upsert(t, s, people, table.Row{"id": 5, "name": "henry"})
	assert.Equal(t, "henry", query(t, s, "SELECT name FROM people")[0]["name"])

	require.NoError(t, s.Checkout(ctx, people, AtVersion(0)))
	assert.Equal(t, []table.Row{{"id": int64(5), "name": "edward"}}, query(t, s, "SELECT * FROM people"))
}

func TestCommitVersionsIncrease(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	for i := 0; i < 3; i++ {
		upsert(t, s, people, table.Row{"id": i})
		require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	}
	versions, err := s.History(ctx, people)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.EqualValues(t, i, v.Version)
		// each version holds the full content
		assert.EqualValues(t, i+1, v.RowCount())
	}

	_, err = s.History(ctx, table.Default("nobody"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCommitWithoutChangesAfterRead(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	// the entry now reads version 0, committing again copies it
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	require.NoError(t, s.Checkout(ctx, people, AtVersion(1)))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)
}

func TestDeleteNonDestructiveUntilCommit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1, "age": 20}, table.Row{"id": 2, "age": 40}, table.Row{"id": 3, "age": 60})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	require.NoError(t, s.Delete(ctx, people, Expr("age > 30")))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)

	other := openStore(t, Config{Root: root})
	assert.Len(t, query(t, other, "SELECT * FROM people"), 3)

	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	other = openStore(t, Config{Root: root})
	rows := query(t, other, "SELECT * FROM people")
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["id"])
}

func TestDeleteRowFunc(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "anna"}, table.Row{"id": 2, "name": "bob"}, table.Row{"id": 3, "name": "alex"})

	err := s.Delete(ctx, people, RowFunc(func(row table.Row) bool {
		name, _ := row["name"].(string)
		return strings.HasPrefix(name, "a")
	}))
	require.NoError(t, err)
	rows := query(t, s, "SELECT * FROM people")
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])
}

func TestDeleteNullPredicateKeepsRow(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "age": 20}, table.Row{"id": 2, "age": nil})
	require.NoError(t, s.Delete(ctx, people, Expr("age < 30")))
	rows := query(t, s, "SELECT * FROM people")
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["id"])
}

func TestDeleteErrors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1})

	err := s.Delete(ctx, people, Expr("nope = 1"))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	err = s.Delete(ctx, people, Expr("   "))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	err = s.Delete(ctx, table.Default("nobody"), Expr("true"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)

	_, err = AsFilter(42)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAsFilter(t *testing.T) {
	f, err := AsFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, All, f)

	f, err = AsFilter("id = 1")
	require.NoError(t, err)
	assert.Equal(t, Expr("id = 1"), f)

	f, err = AsFilter(func(map[string]any) bool { return true })
	require.NoError(t, err)
	assert.True(t, f.(RowFunc)(table.Row{}))

	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1})
	f, err = AsFilter("*")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, people, f))
	assert.Empty(t, s.Tables())
}

func TestDeleteTableThenCommit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	location := filepath.Join(root, "default", "people")
	_, err := os.Stat(location)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, people, nil))
	assert.Empty(t, s.Tables())
	// still on disk until the commit
	_, err = os.Stat(location)
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	_, err = os.Stat(location)
	assert.True(t, os.IsNotExist(err))

	_, err = s.SQL(ctx, "SELECT * FROM people")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = s.Checkout(ctx, people, AtVersion(0))
	assert.True(t, errors.Is(err, ErrNotFound))
	err = s.Commit(ctx, people, CommitOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCommitUnknownTable(t *testing.T) {
	s := openStore(t, Config{})
	err := s.Commit(context.Background(), table.Default("ghost"), CommitOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSchemaForceGate(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 5, "name": "edward"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	// retyped column
	require.NoError(t, s.Register(ctx, people, RegisterOptions{Data: Single{"id": 5, "name": 7}}))
	err := s.Commit(ctx, people, CommitOptions{})
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	versions, err := s.History(ctx, people)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	// entry untouched by the failed commit
	schema, _ := s.Schema(people)
	assert.Equal(t, table.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "BIGINT"}}, schema)

	// dropped column
	require.NoError(t, s.Register(ctx, people, RegisterOptions{Data: Single{"id": 6}}))
	err = s.Commit(ctx, people, CommitOptions{})
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	require.NoError(t, s.Checkout(ctx, people, AtVersion(0)))
	assert.Equal(t, "edward", query(t, s, "SELECT name FROM people")[0]["name"])

	require.NoError(t, s.Register(ctx, people, RegisterOptions{Data: Single{"id": 5, "name": 7}}))
	require.NoError(t, s.Commit(ctx, people, CommitOptions{Force: true}))
	versions, err = s.History(ctx, people)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[1].Force)
	assert.Equal(t, table.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "BIGINT"}}, versions[1].Schema())
	assert.EqualValues(t, 7, query(t, s, "SELECT name FROM people")[0]["name"])

	// added columns are compatible
	upsert(t, s, people, table.Row{"id": 5, "job": "pilot"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
}

func TestCheckoutSelectors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	before := time.Now().Add(-time.Hour)

	upsert(t, s, people, table.Row{"id": 1})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{Tag: "first"}))
	upsert(t, s, people, table.Row{"id": 2})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	upsert(t, s, people, table.Row{"id": 3})

	require.NoError(t, s.Checkout(ctx, people, AtTag("first")))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 1)

	require.NoError(t, s.Checkout(ctx, people, AtTime(time.Now())))
	assert.Len(t, query(t, s, "SELECT * FROM people"), 2)

	for _, sel := range []Selector{AtTime(before), AtTag("nope"), AtVersion(9)} {
		err := s.Checkout(ctx, people, sel)
		assert.True(t, errors.Is(err, ErrNotFound), "%s", sel)
		// the prior entry stays
		assert.Len(t, query(t, s, "SELECT * FROM people"), 2)
	}
	assert.True(t, errors.Is(s.Checkout(ctx, people, nil), ErrInvalidArgument))
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("3")
	require.NoError(t, err)
	assert.Equal(t, AtVersion(3), sel)

	sel, err = ParseSelector("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, AtTime(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), sel)

	sel, err = ParseSelector("release-1")
	require.NoError(t, err)
	assert.Equal(t, AtTag("release-1"), sel)

	for _, bad := range []string{"", "-1"} {
		_, err = ParseSelector(bad)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}
}

func TestPartitionedCommit(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people,
		table.Row{"id": 1, "region": "eu", "score": 1.5},
		table.Row{"id": 2, "region": "us", "score": 2.5},
		table.Row{"id": 3, "region": "eu", "score": 3.5},
		table.Row{"id": 4, "region": nil, "score": 4.5},
	)
	require.NoError(t, s.Commit(ctx, people, CommitOptions{PartitionBy: []string{"region"}}))

	versions, err := s.History(ctx, people)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, []string{"region"}, versions[0].PartitionBy)
	partitions := map[string]int64{}
	for _, p := range versions[0].Parts {
		partitions[p.Partition] = p.RowCount
	}
	assert.Equal(t, map[string]int64{"region=eu": 2, "region=us": 1, "region=__HIVE_DEFAULT_PARTITION__": 1}, partitions)

	files, err := filepath.Glob(filepath.Join(root, "default", "people", "v0", "region=eu", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	fresh := openStore(t, Config{Root: root})
	rows := query(t, fresh, "SELECT id, region, score FROM people ORDER BY id")
	require.Len(t, rows, 4)
	assert.Equal(t, table.Row{"id": int64(1), "region": "eu", "score": 1.5}, rows[0])
	assert.Nil(t, rows[3]["region"])

	err = s.Commit(ctx, people, CommitOptions{PartitionBy: []string{"nope"}})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	err = s.Commit(ctx, people, CommitOptions{PartitionBy: []string{"id", "region", "score"}})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestCommitTypesRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	upsert(t, s, people, table.Row{"id": 1, "at": ts, "ok": true, "raw": []byte("hi"), "n": 1.25})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	p, err := s.SQLLazy(ctx, "SELECT id, [1, 2]::INTEGER[] AS xs, 3.5::DECIMAL(10, 2) AS d FROM people")
	require.NoError(t, err)
	require.NoError(t, s.Register(ctx, table.Default("typed"), RegisterOptions{Data: Tabular{Plan: p}}))
	require.NoError(t, s.Commit(ctx, table.Default("typed"), CommitOptions{Tag: "typed"}))

	fresh := openStore(t, Config{Root: root})
	before, _ := s.Schema(people)
	after, _ := fresh.Schema(people)
	assert.Equal(t, before, after)

	rows := query(t, fresh, "SELECT * FROM people")
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["ok"])
	assert.Equal(t, []byte("hi"), rows[0]["raw"])
	assert.Equal(t, 1.25, rows[0]["n"])
	assert.True(t, ts.Equal(rows[0]["at"].(time.Time)))

	typed, ok := fresh.Schema(table.Default("typed"))
	require.True(t, ok)
	assert.Equal(t, table.Schema{{Name: "id", Type: "BIGINT"}, {Name: "xs", Type: "INTEGER[]"}, {Name: "d", Type: "DECIMAL(10,2)"}}, typed)
	assert.Len(t, query(t, fresh, "SELECT * FROM typed WHERE xs[2] = 2 AND d = 3.5"), 1)
}

func TestCommitEmptyTable(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"})
	require.NoError(t, s.Delete(ctx, people, Expr("true")))
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	fresh := openStore(t, Config{Root: root, Discover: utils.Ptr(true)})
	schema, ok := fresh.Schema(people)
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name"}, schema.Names())
	assert.Empty(t, query(t, fresh, "SELECT * FROM people"))
}

func TestCommitNonFiniteFloats(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openStore(t, Config{Root: root})
	nums := table.Default("nums")

	p, err := s.SQLLazy(ctx, "SELECT 1 AS id, 'nan'::DOUBLE AS x UNION ALL SELECT 2, 'inf'::DOUBLE UNION ALL SELECT 3, '-inf'::DOUBLE UNION ALL SELECT 4, 0.1::DOUBLE")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, nums, "id", Tabular{Plan: p}))
	require.NoError(t, s.Commit(ctx, nums, CommitOptions{}))

	versions, err := s.History(ctx, nums)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "VARCHAR", versions[0].Columns[1].PhysicalType)

	// finite columns keep their native form
	upsert(t, s, people, table.Row{"id": 1, "score": 2.5})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	versions, err = s.History(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, "DOUBLE", versions[0].Columns[1].PhysicalType)

	fresh := openStore(t, Config{Root: root})
	require.NoError(t, fresh.Checkout(ctx, nums, AtVersion(0)))
	schema, _ := fresh.Schema(nums)
	assert.Equal(t, "DOUBLE", schema[1].Type)

	rows := query(t, fresh, "SELECT id, isnan(x) AS is_nan, x FROM nums ORDER BY id")
	require.Len(t, rows, 4)
	assert.Equal(t, true, rows[0]["is_nan"])
	assert.True(t, math.IsInf(rows[1]["x"].(float64), 1))
	assert.True(t, math.IsInf(rows[2]["x"].(float64), -1))
	assert.Equal(t, 0.1, rows[3]["x"])
}

func TestUpsertAfterCheckoutIgnoresLaterVersions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, Config{})
	upsert(t, s, people, table.Row{"id": 1, "name": "a"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))
	upsert(t, s, people, table.Row{"id": 2, "name": "b"})
	require.NoError(t, s.Commit(ctx, people, CommitOptions{}))

	require.NoError(t, s.Checkout(ctx, people, AtVersion(0)))
	upsert(t, s, people, table.Row{"id": 3, "name": "c"})

	rows := query(t, s, "SELECT id FROM people ORDER BY id")
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.EqualValues(t, 3, rows[1]["id"])
}
