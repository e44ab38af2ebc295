package engine

import "github.com/danthegoodman1/deltabase/table"

// Frame is a fully evaluated relation.
type Frame struct {
	Schema table.Schema
	Rows   [][]any
}

func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Records renders every row as a flat column name -> value map.
func (f *Frame) Records() []table.Row {
	if f == nil {
		return []table.Row{}
	}
	records := make([]table.Row, len(f.Rows))
	for i, row := range f.Rows {
		rec := make(table.Row, len(f.Schema))
		for j, col := range f.Schema {
			rec[col.Name] = row[j]
		}
		records[i] = rec
	}
	return records
}

// Column returns every value of the named column, nil if it does not exist.
func (f *Frame) Column(name string) []any {
	idx := -1
	for i, col := range f.Schema {
		if col.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out
}
