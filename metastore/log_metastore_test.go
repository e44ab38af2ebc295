package metastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/deltabase/datastore"
	"github.com/danthegoodman1/deltabase/part"
	"github.com/danthegoodman1/deltabase/table"
)

func testVersion(id table.ID, n int64) Version {
	return Version{
		Namespace:   id.Namespace,
		Table:       id.Name,
		Version:     n,
		CommittedAt: time.Now().UTC(),
		Operation:   OperationWrite,
		Columns: []part.ColumnMapping{
			{Name: "id", Type: "BIGINT", Physical: "C0", PhysicalType: "BIGINT"},
			{Name: "name", Type: "VARCHAR", Physical: "C1", PhysicalType: "VARCHAR"},
		},
		Parts: []part.Part{{ID: "p", Key: "x.parquet", RowCount: 2}},
	}
}

func TestLogMetaStore(t *testing.T) {
	ctx := context.Background()
	ds, err := datastore.NewDiskDataStore(t.TempDir())
	require.NoError(t, err)
	ms := NewLogMetaStore(ds)

	id := table.Default("people")

	_, err = ms.LatestVersion(ctx, id)
	assert.True(t, errors.Is(err, ErrTableNotFound))
	_, err = ms.ListVersions(ctx, id)
	assert.True(t, errors.Is(err, ErrTableNotFound))

	// must start at 0
	err = ms.CommitVersion(ctx, testVersion(id, 1))
	assert.True(t, errors.Is(err, ErrVersionExists))

	require.NoError(t, ms.CommitVersion(ctx, testVersion(id, 0)))
	v1 := testVersion(id, 1)
	v1.Tag = "release"
	require.NoError(t, ms.CommitVersion(ctx, v1))

	// taken
	err = ms.CommitVersion(ctx, testVersion(id, 1))
	assert.True(t, errors.Is(err, ErrVersionExists))

	latest, err := ms.LatestVersion(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest.Version)
	assert.Equal(t, "release", latest.Tag)
	assert.Equal(t, table.Schema{{Name: "id", Type: "BIGINT"}, {Name: "name", Type: "VARCHAR"}}, latest.Schema())
	assert.EqualValues(t, 2, latest.RowCount())
	assert.Equal(t, []string{"x.parquet"}, latest.Keys())

	versions, err := ms.ListVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.EqualValues(t, 0, versions[0].Version)

	_, err = ms.GetVersion(ctx, id, 7)
	assert.True(t, errors.Is(err, ErrVersionNotFound))

	other := table.ID{Namespace: "sales", Name: "orders"}
	require.NoError(t, ms.CommitVersion(ctx, testVersion(other, 0)))
	// a directory without a log is not a table
	_, err = ds.WriteFile(ctx, "sales/scratch/readme.txt", nil)
	require.NoError(t, err)

	ids, err := ms.ListTables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []table.ID{id, other}, ids)

	require.NoError(t, ms.DeleteTable(ctx, id))
	_, err = ms.LatestVersion(ctx, id)
	assert.True(t, errors.Is(err, ErrTableNotFound))
}
