package table

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	good := []ID{Default("orders"), {Namespace: "sales", Name: "orders_2024"}}
	for _, id := range good {
		if err := id.Validate(); err != nil {
			t.Fatalf("expected %s to be valid: %s", id, err)
		}
	}

	bad := []ID{
		{Namespace: "", Name: "x"},
		{Namespace: "default", Name: ""},
		{Namespace: "default", Name: "a/b"},
		{Namespace: "..", Name: "x"},
		{Namespace: "_stage", Name: "x"},
		{Namespace: "default", Name: "_delta_log"},
		{Namespace: "main", Name: "x"},
	}
	for _, id := range bad {
		if err := id.Validate(); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected %q to be invalid, got %v", id.String(), err)
		}
	}
}

func TestUnion(t *testing.T) {
	a := Schema{{"id", "BIGINT"}, {"name", "VARCHAR"}}
	b := Schema{{"job", "VARCHAR"}, {"id", "BIGINT"}}

	u := a.Union(b)
	if !u.Equal(Schema{{"id", "BIGINT"}, {"name", "VARCHAR"}, {"job", "VARCHAR"}}) {
		t.Fatalf("unexpected union %s", u)
	}
	if len(a) != 2 {
		t.Fatal("union mutated the receiver")
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("people")
	if err != nil || id != Default("people") {
		t.Fatalf("unexpected %v %v", id, err)
	}
	id, err = ParseID("sales.orders")
	if err != nil || id != (ID{Namespace: "sales", Name: "orders"}) {
		t.Fatalf("unexpected %v %v", id, err)
	}
	if _, err := ParseID("sales."); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}
