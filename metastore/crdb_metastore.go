package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

const (
	uniqueViolation = "23505"
)

var (
	CRDBRetryDuration = 10 * time.Second
)

type (
	// CRDBMetaStore keeps the version log in the table_versions table. Data files stay in the datastore.
	CRDBMetaStore struct {
		pool *pgxpool.Pool
	}
)

func NewCRDBMetaStore(pool *pgxpool.Pool) *CRDBMetaStore {
	return &CRDBMetaStore{pool: pool}
}

func (cms *CRDBMetaStore) ListTables(ctx context.Context) ([]table.ID, error) {
	var ids []table.ID
	err := utils.ReliableExec(ctx, cms.pool, CRDBRetryDuration, func(ctx context.Context, conn *pgxpool.Conn) error {
		ids = nil
		rows, err := conn.Query(ctx, `SELECT DISTINCT namespace, table_name FROM table_versions ORDER BY namespace, table_name`)
		if err != nil {
			return fmt.Errorf("error in conn.Query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id table.ID
			if err := rows.Scan(&id.Namespace, &id.Name); err != nil {
				return utils.PermError(fmt.Sprintf("error in rows.Scan: %s", err))
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing tables: %w", err)
	}
	return ids, nil
}

func (cms *CRDBMetaStore) ListVersions(ctx context.Context, id table.ID) ([]Version, error) {
	var versions []Version
	err := utils.ReliableExec(ctx, cms.pool, CRDBRetryDuration, func(ctx context.Context, conn *pgxpool.Conn) error {
		versions = nil
		rows, err := conn.Query(ctx, `SELECT entry FROM table_versions WHERE namespace = $1 AND table_name = $2 ORDER BY version`, id.Namespace, id.Name)
		if err != nil {
			return fmt.Errorf("error in conn.Query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var entry pgtype.JSONB
			if err := rows.Scan(&entry); err != nil {
				return utils.PermError(fmt.Sprintf("error in rows.Scan: %s", err))
			}
			var v Version
			if err := json.Unmarshal(entry.Bytes, &v); err != nil {
				return utils.PermError(fmt.Sprintf("error in json.Unmarshal: %s", err))
			}
			versions = append(versions, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("error listing versions of %s: %w", id, err)
	}
	if len(versions) == 0 {
		return nil, ErrTableNotFound
	}
	return versions, nil
}

func (cms *CRDBMetaStore) GetVersion(ctx context.Context, id table.ID, version int64) (Version, error) {
	return cms.getOne(ctx, id, `SELECT entry FROM table_versions WHERE namespace = $1 AND table_name = $2 AND version = $3`, id.Namespace, id.Name, version)
}

func (cms *CRDBMetaStore) LatestVersion(ctx context.Context, id table.ID) (Version, error) {
	v, err := cms.getOne(ctx, id, `SELECT entry FROM table_versions WHERE namespace = $1 AND table_name = $2 ORDER BY version DESC LIMIT 1`, id.Namespace, id.Name)
	if errors.Is(err, ErrVersionNotFound) {
		return Version{}, ErrTableNotFound
	}
	return v, err
}

func (cms *CRDBMetaStore) getOne(ctx context.Context, id table.ID, query string, args ...any) (Version, error) {
	var entry pgtype.JSONB
	found := true
	err := utils.ReliableExec(ctx, cms.pool, CRDBRetryDuration, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, query, args...).Scan(&entry)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return Version{}, fmt.Errorf("error reading version of %s: %w", id, err)
	}
	if !found {
		return Version{}, ErrVersionNotFound
	}
	var v Version
	if err := json.Unmarshal(entry.Bytes, &v); err != nil {
		return Version{}, fmt.Errorf("error in json.Unmarshal: %w", err)
	}
	return v, nil
}

func (cms *CRDBMetaStore) CommitVersion(ctx context.Context, v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	entry := pgtype.JSONB{Bytes: b, Status: pgtype.Present}

	err = crdbpgx.ExecuteTx(ctx, cms.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var latest *int64
		err := tx.QueryRow(ctx, `SELECT max(version) FROM table_versions WHERE namespace = $1 AND table_name = $2`, v.Namespace, v.Table).Scan(&latest)
		if err != nil {
			return fmt.Errorf("error selecting latest version: %w", err)
		}
		expected := int64(0)
		if latest != nil {
			expected = *latest + 1
		}
		if v.Version != expected {
			return ErrVersionExists
		}
		_, err = tx.Exec(ctx, `INSERT INTO table_versions (namespace, table_name, version, committed_at, tag, entry) VALUES ($1, $2, $3, $4, $5, $6)`,
			v.Namespace, v.Table, v.Version, v.CommittedAt, v.Tag, entry)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrVersionExists
	}
	if err != nil {
		if errors.Is(err, ErrVersionExists) {
			return ErrVersionExists
		}
		return fmt.Errorf("error committing version %d of %s: %w", v.Version, v.ID(), err)
	}
	zerolog.Ctx(ctx).Debug().Str("table", v.ID().String()).Int64("version", v.Version).Msg("committed version to crdb")
	return nil
}

func (cms *CRDBMetaStore) DeleteTable(ctx context.Context, id table.ID) error {
	err := utils.ReliableExecInTx(ctx, cms.pool, CRDBRetryDuration, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM table_versions WHERE namespace = $1 AND table_name = $2`, id.Namespace, id.Name)
		return err
	})
	if err != nil {
		return fmt.Errorf("error deleting versions of %s: %w", id, err)
	}
	return nil
}

func (cms *CRDBMetaStore) Shutdown(ctx context.Context) error {
	cms.pool.Close()
	return nil
}
