package table

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultNamespace = "default"

type (
	// ID addresses a table inside a store. Names are unique per namespace.
	ID struct {
		Namespace string
		Name      string
	}

	Column struct {
		Name string
		// DuckDB logical type name, e.g. BIGINT, VARCHAR, INTEGER[]
		Type string
	}

	// Schema is ordered; the order is the display order.
	Schema []Column

	// Row is a flat column name -> value record.
	Row map[string]any
)

var (
	ErrInvalidName = errors.New("invalid table name")

	reservedNamespaces = []string{"_stage", "main", "information_schema", "pg_catalog", "temp"}
)

// Default returns the ID of name in the default namespace.
func Default(name string) ID {
	return ID{Namespace: DefaultNamespace, Name: name}
}

// ParseID reads "namespace.name", or a bare name in the default namespace.
func ParseID(s string) (ID, error) {
	ns, name, found := strings.Cut(s, ".")
	id := ID{Namespace: ns, Name: name}
	if !found {
		id = Default(s)
	}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

func (id ID) String() string {
	return id.Namespace + "." + id.Name
}

// Validate checks that both parts are usable as a directory name.
func (id ID) Validate() error {
	for _, part := range []string{id.Namespace, id.Name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) || strings.HasPrefix(part, "_") {
			return fmt.Errorf("%w: %q", ErrInvalidName, id.String())
		}
	}
	for _, ns := range reservedNamespaces {
		if strings.EqualFold(id.Namespace, ns) {
			return fmt.Errorf("%w: namespace %q is reserved", ErrInvalidName, id.Namespace)
		}
	}
	return nil
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, col := range s {
		names[i] = col.Name
	}
	return names
}

// Lookup returns the column called name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, col := range s {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Union keeps the order of s and appends the columns of other that s lacks.
func (s Schema) Union(other Schema) Schema {
	out := make(Schema, len(s), len(s)+len(other))
	copy(out, s)
	for _, col := range other {
		if !s.Has(col.Name) {
			out = append(out, col)
		}
	}
	return out
}

func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, col := range s {
		parts[i] = col.Name + " " + col.Type
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
