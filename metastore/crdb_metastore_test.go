package metastore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/deltabase/crdb"
	"github.com/danthegoodman1/deltabase/migrations"
	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

func TestCRDBMetaStore(t *testing.T) {
	dsn := os.Getenv("CRDB_DSN")
	if dsn == "" {
		t.Skip("CRDB_DSN not set")
	}
	ctx := context.Background()

	_, err := migrations.RunMigrations(dsn)
	require.NoError(t, err)
	require.NoError(t, migrations.CheckMigrations(dsn))

	pool, err := crdb.ConnectToDB(ctx, dsn)
	require.NoError(t, err)
	ms := NewCRDBMetaStore(pool)
	defer ms.Shutdown(ctx)

	id := table.ID{Namespace: "test_" + utils.GenRandomShortID(), Name: "people"}
	defer ms.DeleteTable(ctx, id)

	_, err = ms.LatestVersion(ctx, id)
	assert.True(t, errors.Is(err, ErrTableNotFound))

	require.NoError(t, ms.CommitVersion(ctx, testVersion(id, 0)))
	assert.True(t, errors.Is(ms.CommitVersion(ctx, testVersion(id, 0)), ErrVersionExists))
	assert.True(t, errors.Is(ms.CommitVersion(ctx, testVersion(id, 2)), ErrVersionExists))
	require.NoError(t, ms.CommitVersion(ctx, testVersion(id, 1)))

	latest, err := ms.LatestVersion(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest.Version)

	versions, err := ms.ListVersions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	ids, err := ms.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	require.NoError(t, ms.DeleteTable(ctx, id))
	_, err = ms.GetVersion(ctx, id, 0)
	assert.True(t, errors.Is(err, ErrVersionNotFound))
}
