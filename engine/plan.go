package engine

import (
	"fmt"
	"strings"

	"github.com/danthegoodman1/deltabase/part"
)

// Plan is a lazy relation: SQL usable as the source of a FROM clause.
// A plan either owns a staging table or reads from somewhere else
// (a query, persisted parquet files).
type Plan struct {
	source string
	staged string
}

// Query wraps a SELECT statement as a plan. It is evaluated when used.
func Query(query string) Plan {
	return Plan{source: "(" + strings.TrimRight(strings.TrimSpace(query), ";") + ")"}
}

// Relation returns a plan over an existing table or view.
func Relation(schema, name string) Plan {
	return Plan{source: QuoteIdent(schema) + "." + QuoteIdent(name)}
}

func stagedPlan(name string) Plan {
	return Plan{source: QuoteIdent(StageSchema) + "." + QuoteIdent(name), staged: name}
}

func (p Plan) SQL() string {
	return p.source
}

func (p Plan) IsZero() bool {
	return p.source == ""
}

// Staged reports whether the plan owns a staging table.
func (p Plan) Staged() bool {
	return p.staged != ""
}

func (p Plan) String() string {
	return p.source
}

// ReadParquet returns a plan reading files and casting their physical
// columns back to the logical columns in mapping order.
func ReadParquet(files []string, mapping []part.ColumnMapping) Plan {
	projection := make([]string, len(mapping))
	if len(files) == 0 {
		for i, m := range mapping {
			projection[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", m.Type, QuoteIdent(m.Name))
		}
		return Plan{source: fmt.Sprintf("(SELECT %s WHERE false)", strings.Join(projection, ", "))}
	}

	for i, m := range mapping {
		projection[i] = castBack(m)
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = QuoteLiteral(f)
	}
	return Plan{source: fmt.Sprintf("(SELECT %s FROM read_parquet([%s], hive_partitioning = false))", strings.Join(projection, ", "), strings.Join(quoted, ", "))}
}

func castBack(m part.ColumnMapping) string {
	if m.PhysicalType == m.Type {
		return fmt.Sprintf("%s AS %s", QuoteIdent(m.Physical), QuoteIdent(m.Name))
	}
	return fmt.Sprintf("CAST(%s AS %s) AS %s", QuoteIdent(m.Physical), m.Type, QuoteIdent(m.Name))
}

func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
