package parquet_accumulator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/part"
	"github.com/danthegoodman1/deltabase/table"
)

type (
	ParquetSchemaAccumulator struct {
		schema  ParquetSchema
		mapping []part.ColumnMapping
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

// Physical DuckDB types a logical column is stored as.
const (
	PhysicalInt64   = "BIGINT"
	PhysicalDouble  = "DOUBLE"
	PhysicalBoolean = "BOOLEAN"
	PhysicalString  = "VARCHAR"
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// NewAccumulatorForSchema accumulates every column of schema in order.
func NewAccumulatorForSchema(schema table.Schema) ParquetSchemaAccumulator {
	pa := NewParquetAccumulator()
	for _, col := range schema {
		pa.AddColumn(col)
	}
	return pa
}

// AddColumn appends a logical column and assigns it the next physical column.
// Column names never reach the file, so any logical name is storable.
func (pa *ParquetSchemaAccumulator) AddColumn(col table.Column) {
	for _, m := range pa.mapping {
		if m.Name == col.Name {
			return
		}
	}
	m := part.ColumnMapping{
		Name:         col.Name,
		Type:         col.Type,
		Physical:     fmt.Sprintf("C%d", len(pa.mapping)),
		PhysicalType: PhysicalType(col.Type),
	}
	pa.mapping = append(pa.mapping, m)
	pa.schema.Fields = append(pa.schema.Fields, getParquetSchema(m))
}

// PhysicalType maps a DuckDB logical type to the type it is written as.
// Anything without a native parquet representation here is stored as its
// VARCHAR rendering, which DuckDB casts back losslessly.
func PhysicalType(logical string) string {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "UTINYINT", "USMALLINT", "UINTEGER":
		return PhysicalInt64
	case "FLOAT", "DOUBLE":
		return PhysicalDouble
	case "BOOLEAN":
		return PhysicalBoolean
	default:
		return PhysicalString
	}
}

// StoreAsString switches the named column to the VARCHAR physical form.
func (pa *ParquetSchemaAccumulator) StoreAsString(name string) {
	for i, m := range pa.mapping {
		if m.Name == name {
			pa.mapping[i].PhysicalType = PhysicalString
			pa.schema.Fields[i] = getParquetSchema(pa.mapping[i])
			return
		}
	}
}

func getParquetSchema(m part.ColumnMapping) *ParquetSchema {
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           m.Physical,
			RepetitionType: Optional,
		},
	}
	switch m.PhysicalType {
	case PhysicalInt64:
		schema.TagStructs.Type = "INT64"
	case PhysicalDouble:
		schema.TagStructs.Type = "DOUBLE"
	case PhysicalBoolean:
		schema.TagStructs.Type = "BOOLEAN"
	default:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	}
	return schema
}

func (pa *ParquetSchemaAccumulator) Mapping() []part.ColumnMapping {
	out := make([]part.ColumnMapping, len(pa.mapping))
	copy(out, pa.mapping)
	return out
}

// SelectList is the projection that turns logical columns into their physical form.
func (pa *ParquetSchemaAccumulator) SelectList() string {
	exprs := make([]string, len(pa.mapping))
	for i, m := range pa.mapping {
		exprs[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", engine.QuoteIdent(m.Name), m.PhysicalType, engine.QuoteIdent(m.Physical))
	}
	return strings.Join(exprs, ", ")
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
