package fingerprint

import "testing"

func TestComputeDeterministic(t *testing.T) {
	order := []string{"size", "hollow"}
	values := map[string]any{"size": 10.0, "hollow": true}

	a := Compute("box", order, values)
	b := Compute("box", order, values)
	if a != b {
		t.Fatalf("expected deterministic fingerprint, got %q and %q", a, b)
	}
	if len(a) != Length {
		t.Fatalf("expected length %d, got %d (%q)", Length, len(a), a)
	}
}

func TestComputeEmptyParams(t *testing.T) {
	a := Compute("box", nil, nil)
	b := Compute("box", nil, map[string]any{})
	if a != b {
		t.Fatalf("empty params should hash the same as nil params")
	}
}

func TestComputeDistinctForDifferentValues(t *testing.T) {
	order := []string{"size"}
	a := Compute("box", order, map[string]any{"size": 10.0})
	b := Compute("box", order, map[string]any{"size": 11.0})
	if a == b {
		t.Fatalf("expected distinct fingerprints for distinct values")
	}
}

func TestComputeNullValue(t *testing.T) {
	order := []string{"size"}
	a := Compute("box", order, map[string]any{"size": nil})
	b := Compute("box", order, map[string]any{"size": 0.0})
	if a == b {
		t.Fatalf("null and zero should not collide")
	}
}

func TestComputeOrderMattersOnlyByDeclaration(t *testing.T) {
	order := []string{"a", "b"}
	v1 := map[string]any{"a": 1.0, "b": 2.0}
	// Same declared order, map insertion order differs but doesn't matter in Go maps.
	v2 := map[string]any{"b": 2.0, "a": 1.0}
	if Compute("script", order, v1) != Compute("script", order, v2) {
		t.Fatalf("fingerprint must not depend on map iteration order")
	}
}
