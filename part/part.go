package part

import "time"

type (
	// Part is one immutable parquet file belonging to a table version.
	Part struct {
		ID string
		// Key is the datastore key of the file, relative to the store root
		Key string
		// Partition is the hive style path the file sits in, empty when unpartitioned.
		//
		// Ex: `region=eu/year=2024`
		Partition string
		CreatedAt time.Time
		RowCount  int64
		Bytes     int64
	}

	// ColumnMapping ties a logical column to the column name used inside the parquet files.
	ColumnMapping struct {
		Name string
		Type string
		// Physical is the parquet column name
		Physical string
		// PhysicalType is the DuckDB type the column is stored as before casting back to Type
		PhysicalType string
	}
)

// TotalRows sums the row count of parts.
func TotalRows(parts []Part) int64 {
	var n int64
	for _, p := range parts {
		n += p.RowCount
	}
	return n
}
