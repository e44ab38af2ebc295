package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// registers the "pgx" driver
	_ "github.com/jackc/pgx/v4/stdlib"
	// registers the "sqlite3" driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

var (
	SupportedDrivers = []string{"pgx", "sqlite3"}

	ConnectRetryDuration = 10 * time.Second
)

// SQLConnector fetches rows from any database reachable through a database/sql driver.
type SQLConnector struct {
	driver string
	db     *sql.DB
}

func NewSQLConnector(ctx context.Context, driver, dsn string) (*SQLConnector, error) {
	if !utils.ContainsString(SupportedDrivers, driver) {
		return nil, fmt.Errorf("unsupported driver %q, expected one of %s", driver, strings.Join(SupportedDrivers, ", "))
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error in sql.Open: %w", err)
	}
	err = utils.Retry(ctx, ConnectRetryDuration, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging %s: %w", driver, err)
	}
	return &SQLConnector{driver: driver, db: db}, nil
}

func (sc *SQLConnector) Fetch(ctx context.Context, query string) ([]table.Row, error) {
	rows, err := sc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error in db.QueryContext: %w", err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("error in rows.ColumnTypes: %w", err)
	}
	var out []table.Row
	for rows.Next() {
		vals := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("error in rows.Scan: %w", err)
		}
		row := make(table.Row, len(colTypes))
		for i, ct := range colTypes {
			row[ct.Name()] = normalize(vals[i], ct.DatabaseTypeName())
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (sc *SQLConnector) Close() error {
	return sc.db.Close()
}

// text columns come back as []byte from some drivers
func normalize(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "BLOB", "BYTEA":
		return b
	}
	return string(b)
}
