package script

import (
	"testing"

	"github.com/occi-cad/occi-server/internal/param"
)

func TestNamespaceAndID(t *testing.T) {
	s := Script{Org: "acme", Name: "box", Version: "1.2.0"}
	if s.Namespace() != "acme/box" {
		t.Fatalf("unexpected namespace %q", s.Namespace())
	}
	if s.ID() != "acme/box/1.2.0" {
		t.Fatalf("unexpected id %q", s.ID())
	}
}

func TestNormalizeIdentity(t *testing.T) {
	s := &Script{Org: "ACME", Name: "Box"}
	s.NormalizeIdentity()
	if s.Org != "acme" || s.Name != "box" {
		t.Fatalf("expected lowercase org/name, got %q/%q", s.Org, s.Name)
	}
}

func TestSortVersions(t *testing.T) {
	sorted, invalid := SortVersions([]string{"1.2.0", "1.0.0", "not-a-version", "2.0.0", "1.10.0"})
	if len(invalid) != 1 || invalid[0] != "not-a-version" {
		t.Fatalf("expected one invalid version, got %v", invalid)
	}
	want := []string{"1.0.0", "1.2.0", "1.10.0", "2.0.0"}
	if len(sorted) != len(want) {
		t.Fatalf("expected %v, got %v", want, sorted)
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, sorted)
		}
	}
	if Latest(sorted) != "2.0.0" {
		t.Fatalf("expected latest 2.0.0, got %q", Latest(sorted))
	}
}

func TestCachable(t *testing.T) {
	s := Script{
		ParamOrder: []string{"size", "label"},
		Params: map[string]param.Descriptor{
			"size":  {Kind: param.KindNumber, Start: 0, End: 10, Step: 1, Iterable: true},
			"label": {Kind: param.KindText, Iterable: false},
		},
	}
	if s.Cachable() {
		t.Fatalf("expected non-iterable text param to make script non-cachable")
	}
	s.Params["label"] = param.Descriptor{Kind: param.KindOptions, Options: []string{"a"}, Iterable: true}
	if !s.Cachable() {
		t.Fatalf("expected all-iterable script to be cachable")
	}
}

func TestResolvePreset(t *testing.T) {
	s := Script{Presets: map[string]map[string]any{"default": {"size": 10.0}}}
	v, err := s.ResolvePreset("default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v["size"] != 10.0 {
		t.Fatalf("unexpected preset value %v", v)
	}
	if _, err := s.ResolvePreset("missing"); err == nil {
		t.Fatalf("expected error for missing preset")
	}
}

func TestEngineForExtension(t *testing.T) {
	cases := map[string]Engine{".py": EngineCadQuery, ".js": EngineArchiyou, ".scad": EngineOpenSCAD}
	for ext, want := range cases {
		got, err := EngineForExtension(ext)
		if err != nil || got != want {
			t.Fatalf("%s: got %v, %v; want %v", ext, got, err, want)
		}
	}
	if _, err := EngineForExtension(".txt"); err == nil {
		t.Fatalf("expected error for unknown extension")
	}
}
