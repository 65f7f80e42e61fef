package piramid

import "testing"

func TestFilterBuilderChaining(t *testing.T) {
	f := NewFilter().Eq("lang", "en").Gte("score", 0.5).In("tag", []any{"a", "b"})
	if len(f.Conditions) != 3 {
		t.Fatalf("expected 3 conditions, got %d", len(f.Conditions))
	}
	if f.Conditions[0].Op != OpEq || f.Conditions[1].Op != OpGte || f.Conditions[2].Op != OpIn {
		t.Fatalf("unexpected operator sequence: %+v", f.Conditions)
	}
}

func TestFilterNilToSearchIsNil(t *testing.T) {
	var f *Filter
	if f.toSearch() != nil {
		t.Fatal("a nil Filter should translate to a nil search.Filter")
	}
	if NewFilter().toSearch() != nil {
		t.Fatal("an empty Filter should translate to a nil search.Filter (matches everything)")
	}
}

func TestFilterToSearchPreservesConditions(t *testing.T) {
	f := NewFilter().Eq("lang", "en")
	sf := f.toSearch()
	if sf == nil || len(sf.Conditions) != 1 {
		t.Fatalf("expected 1 translated condition, got %+v", sf)
	}
	if sf.Conditions[0].Key != "lang" || sf.Conditions[0].Value != "en" {
		t.Fatalf("condition not translated correctly: %+v", sf.Conditions[0])
	}
}
