package partitioner

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/danthegoodman1/deltabase/table"
)

// NullPartition is the directory value used for null partition values.
const NullPartition = "__HIVE_DEFAULT_PARTITION__"

type (
	PartitionPlan struct {
		Column string
		// As is the directory key, defaults to Column
		As string
	}
)

var (
	ErrNoColumns         = errors.New("no partition columns given")
	ErrMissingColumns    = errors.New("missing one or more partition columns")
	ErrDuplicateColumn   = errors.New("partition column listed more than once")
	ErrWrongValueCount   = errors.New("partition value count does not match the plan")
	ErrAllColumnsPartKey = errors.New("at least one column must not be a partition column")
)

// Plan builds a partition plan for the ordered columns, validating them against schema.
func Plan(schema table.Schema, columns []string) ([]PartitionPlan, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	seen := make(map[string]bool, len(columns))
	plans := make([]PartitionPlan, 0, len(columns))
	for _, col := range columns {
		if seen[col] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, col)
		}
		seen[col] = true
		if !schema.Has(col) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, col)
		}
		plans = append(plans, PartitionPlan{Column: col, As: col})
	}
	if len(plans) == len(schema) {
		return nil, ErrAllColumnsPartKey
	}
	return plans, nil
}

// GetRowPartition renders the hive style directory path for one row's partition values.
func GetRowPartition(values []any, partitioners []PartitionPlan) (string, error) {
	if len(values) != len(partitioners) {
		return "", fmt.Errorf("%w: %d values for %d columns", ErrWrongValueCount, len(values), len(partitioners))
	}
	var finalParts []string
	for i, plan := range partitioners {
		as := plan.As
		if as == "" {
			as = plan.Column
		}
		finalParts = append(finalParts, fmt.Sprintf("%s=%s", url.PathEscape(as), partitionValue(values[i])))
	}
	return strings.Join(finalParts, "/"), nil
}

func partitionValue(v any) string {
	if v == nil {
		return NullPartition
	}
	s := fmt.Sprint(v)
	if s == "" {
		return NullPartition
	}
	return url.PathEscape(s)
}
