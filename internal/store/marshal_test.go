package store

import (
	"testing"

	"github.com/roach88/vtkindex/internal/resource"
)

func TestMarshalProperties_Empty(t *testing.T) {
	for _, props := range []map[string]string{nil, {}} {
		got, err := marshalProperties(props)
		if err != nil {
			t.Fatalf("marshalProperties() failed: %v", err)
		}
		if got != "{}" {
			t.Errorf("marshalProperties(%v) = %q, want %q", props, got, "{}")
		}
	}
}

func TestMarshalProperties_SortedKeys(t *testing.T) {
	props := map[string]string{
		"title":  "Q1 <draft>",
		"author": "kim",
	}
	got, err := marshalProperties(props)
	if err != nil {
		t.Fatalf("marshalProperties() failed: %v", err)
	}

	// Keys sorted, HTML characters left unescaped.
	expected := `{"author":"kim","title":"Q1 <draft>"}`
	if got != expected {
		t.Errorf("marshalProperties() = %q, want %q", got, expected)
	}
}

func TestUnmarshalProperties(t *testing.T) {
	props, err := unmarshalProperties(`{"author":"kim"}`)
	if err != nil {
		t.Fatalf("unmarshalProperties() failed: %v", err)
	}
	if props["author"] != "kim" || len(props) != 1 {
		t.Errorf("unmarshalProperties() = %v", props)
	}

	empty, err := unmarshalProperties("{}")
	if err != nil || empty != nil {
		t.Errorf("unmarshalProperties({}) = %v, %v; want nil, nil", empty, err)
	}

	if _, err := unmarshalProperties("{"); err == nil {
		t.Error("unmarshalProperties() accepted malformed JSON")
	}
}

func TestAncestors(t *testing.T) {
	got, err := marshalAncestors([]resource.ID{1, 4, 9})
	if err != nil {
		t.Fatalf("marshalAncestors() failed: %v", err)
	}
	if got != "[1,4,9]" {
		t.Errorf("marshalAncestors() = %q, want %q", got, "[1,4,9]")
	}

	ids, err := unmarshalAncestors(got)
	if err != nil {
		t.Fatalf("unmarshalAncestors() failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 9 {
		t.Errorf("unmarshalAncestors() = %v", ids)
	}

	root, err := marshalAncestors(nil)
	if err != nil || root != "[]" {
		t.Errorf("marshalAncestors(nil) = %q, %v; want \"[]\", nil", root, err)
	}
}

func TestMarshalURIs_NilIsEmptyArray(t *testing.T) {
	got, err := marshalURIs(nil)
	if err != nil {
		t.Fatalf("marshalURIs() failed: %v", err)
	}
	if got != "[]" {
		t.Errorf("marshalURIs(nil) = %q, want %q", got, "[]")
	}
}
