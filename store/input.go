package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/danthegoodman1/gojsonutils"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/table"
)

type (
	// Input is the data given to Register and Upsert. It is one of Single,
	// Batch, Tabular or Frame.
	Input interface {
		isInput()
	}

	// Single is one record.
	Single table.Row
	// Batch is an ordered list of records.
	Batch []table.Row
	// Tabular is a relation already known to the engine, such as the result of SQLLazy.
	Tabular struct {
		Plan engine.Plan
	}
	// Frame is an evaluated relation, such as the Frame of a Result.
	Frame struct {
		*engine.Frame
	}
)

func (Single) isInput()  {}
func (Batch) isInput()   {}
func (Tabular) isInput() {}
func (Frame) isInput()   {}

// AsInput resolves a dynamically shaped value once. Records with nested
// objects are flattened into dotted column names.
func AsInput(v any) (Input, error) {
	switch t := v.(type) {
	case nil:
		return nil, invalidArgument("no data given")
	case Input:
		return t, nil
	case table.Row:
		row, err := flatten(t)
		return Single(row), err
	case map[string]any:
		row, err := flatten(t)
		return Single(row), err
	case []table.Row:
		return flattenAll(t)
	case []map[string]any:
		rows := make([]table.Row, len(t))
		for i, r := range t {
			rows[i] = r
		}
		return flattenAll(rows)
	case []any:
		rows := make([]table.Row, len(t))
		for i, r := range t {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, invalidArgument("record %d is a %T, expected an object", i, r)
			}
			rows[i] = m
		}
		return flattenAll(rows)
	case engine.Plan:
		return Tabular{Plan: t}, nil
	case *engine.Frame:
		return Frame{Frame: t}, nil
	case engine.Frame:
		return Frame{Frame: &t}, nil
	}
	return nil, invalidArgument("unsupported data type %T", v)
}

func flattenAll(rows []table.Row) (Batch, error) {
	out := make(Batch, len(rows))
	for i, r := range rows {
		flat, err := flatten(r)
		if err != nil {
			return nil, err
		}
		out[i] = flat
	}
	return out, nil
}

func flatten(row map[string]any) (table.Row, error) {
	nested := false
	for _, v := range row {
		if _, ok := v.(map[string]any); ok {
			nested = true
			break
		}
	}
	if !nested {
		return row, nil
	}
	flat, err := gojsonutils.Flatten(row, nil)
	if err != nil {
		return nil, invalidArgument("error flattening record: %s", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, invalidArgument("got a non flat map: %+v", flat)
	}
	return flatMap, nil
}

// stage materializes in as a staging table and returns its plan and schema.
// Record columns holding only nulls take their type from hint.
func (s *Store) stage(ctx context.Context, in Input, hint table.Schema) (engine.Plan, table.Schema, error) {
	var (
		p   engine.Plan
		err error
	)
	switch t := in.(type) {
	case Single:
		return s.stageRows(ctx, []table.Row{table.Row(t)}, hint)
	case Batch:
		return s.stageRows(ctx, t, hint)
	case Tabular:
		if t.Plan.IsZero() {
			return engine.Plan{}, nil, invalidArgument("empty plan")
		}
		// plans from SQLLazy read the table views
		if err := s.syncViews(ctx); err != nil {
			return engine.Plan{}, nil, err
		}
		p, err = s.engine.Materialize(ctx, "input", "SELECT * FROM "+t.Plan.SQL())
	case Frame:
		if t.Frame == nil || len(t.Frame.Schema) == 0 {
			return engine.Plan{}, nil, invalidArgument("frame has no columns")
		}
		p, err = s.engine.FromRows(ctx, "input", t.Frame.Schema, t.Frame.Rows)
	case nil:
		return engine.Plan{}, nil, invalidArgument("no data given")
	default:
		return engine.Plan{}, nil, invalidArgument("unsupported input %T", in)
	}
	if err != nil {
		return engine.Plan{}, nil, fmt.Errorf("%w: error staging input: %w", ErrInvalidArgument, err)
	}
	schema, err := s.engine.Describe(ctx, p)
	if err != nil {
		s.engine.Drop(ctx, p)
		return engine.Plan{}, nil, storageFailure(err, "error describing staged input")
	}
	return p, schema, nil
}

func (s *Store) stageRows(ctx context.Context, rows []table.Row, hint table.Schema) (engine.Plan, table.Schema, error) {
	schema, values, err := inferRows(rows, hint)
	if err != nil {
		return engine.Plan{}, nil, err
	}
	p, err := s.engine.FromRows(ctx, "input", schema, values)
	if err != nil {
		return engine.Plan{}, nil, fmt.Errorf("%w: error staging records: %w", ErrInvalidArgument, err)
	}
	return p, schema, nil
}

const (
	typeBigint    = "BIGINT"
	typeDouble    = "DOUBLE"
	typeBoolean   = "BOOLEAN"
	typeVarchar   = "VARCHAR"
	typeTimestamp = "TIMESTAMP"
	typeBlob      = "BLOB"
)

// inferRows derives a schema from the records, columns in order of first
// appearance, and converts every value to its column's type. Columns are
// ordered by name within a record.
func inferRows(rows []table.Row, hint table.Schema) (table.Schema, [][]any, error) {
	var (
		names []string
		types = map[string]string{}
	)
	for i, row := range rows {
		// map order is random, keep first appearance deterministic per row
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return nil, nil, invalidArgument("record %d has an empty column name", i)
			}
			t, err := valueType(row[k])
			if err != nil {
				return nil, nil, invalidArgument("record %d column %q: %s", i, k, err)
			}
			prev, seen := types[k]
			if !seen {
				names = append(names, k)
			}
			types[k] = widen(prev, t)
		}
	}
	if len(names) == 0 {
		return nil, nil, invalidArgument("records have no columns")
	}

	schema := make(table.Schema, len(names))
	for i, n := range names {
		t := types[n]
		if t == "" {
			t = typeVarchar
			if col, ok := hint.Lookup(n); ok {
				t = col.Type
			}
		}
		schema[i] = table.Column{Name: n, Type: t}
	}
	values := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(schema))
		for j, col := range schema {
			v, err := convert(row[col.Name], col.Type)
			if err != nil {
				return nil, nil, invalidArgument("record %d column %q: %s", i, col.Name, err)
			}
			vals[j] = v
		}
		values[i] = vals
	}
	return schema, values, nil
}

// valueType returns the column type of one value, "" for null.
func valueType(v any) (string, error) {
	v = deref(v)
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return typeVarchar, nil
	case bool:
		return typeBoolean, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return typeBigint, nil
	case uint, uint64:
		if reflect.ValueOf(t).Uint() > math.MaxInt64 {
			return "", fmt.Errorf("unsigned value %v overflows BIGINT", t)
		}
		return typeBigint, nil
	case float32, float64:
		return typeDouble, nil
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return typeBigint, nil
		}
		if _, err := t.Float64(); err == nil {
			return typeDouble, nil
		}
		return "", fmt.Errorf("invalid number %q", t.String())
	case time.Time:
		return typeTimestamp, nil
	case []byte:
		return typeBlob, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return typeVarchar, nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func widen(a, b string) string {
	switch {
	case a == "" || a == b:
		return b
	case b == "":
		return a
	case (a == typeBigint && b == typeDouble) || (a == typeDouble && b == typeBigint):
		return typeDouble
	}
	return typeVarchar
}

func convert(v any, colType string) (any, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	switch colType {
	case typeBigint:
		switch t := v.(type) {
		case json.Number:
			return t.Int64()
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint()), nil
		}
		return rv.Int(), nil
	case typeDouble:
		switch t := v.(type) {
		case json.Number:
			return t.Float64()
		case float32:
			return float64(t), nil
		case float64:
			return t, nil
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		}
		return float64(rv.Int()), nil
	case typeVarchar:
		return toString(v)
	}
	return v, nil
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case []byte:
		return string(t), nil
	case float32, float64:
		return strconv.FormatFloat(reflect.ValueOf(t).Float(), 'g', -1, 64), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("error in json.Marshal: %w", err)
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// deref unwraps pointers, nil pointers become nil.
func deref(v any) any {
	for v != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	return v
}
