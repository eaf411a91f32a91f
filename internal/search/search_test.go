package search

import (
	"testing"

	"github.com/occi-cad/occi-server/internal/script"
)

func testCatalog() map[string]*script.Script {
	return map[string]*script.Script{
		"acme/box": {
			Org: "acme", Name: "box",
			Metadata: script.Metadata{Author: "jane", Description: "a parametric box", Units: script.UnitsMM},
			EngineTag: script.EngineCadQuery,
		},
		"acme/sphere": {
			Org: "acme", Name: "sphere",
			Metadata: script.Metadata{Author: "jane", Description: "a round sphere", Units: script.UnitsMM},
			EngineTag: script.EngineCadQuery,
		},
		"other/gear": {
			Org: "other", Name: "gear",
			Metadata: script.Metadata{Author: "bob", Description: "a mechanical gear", Units: script.UnitsMM},
			EngineTag: script.EngineArchiyou,
		},
	}
}

func TestQueryExactMatch(t *testing.T) {
	idx := Build(testCatalog())
	got := idx.Query("box")
	if len(got) != 1 || got[0] != "acme/box" {
		t.Fatalf("expected [acme/box], got %v", got)
	}
}

func TestQueryFuzzyEditDistanceOne(t *testing.T) {
	idx := Build(testCatalog())
	// "boz" is edit distance 1 from "box".
	got := idx.Query("boz")
	if len(got) != 1 || got[0] != "acme/box" {
		t.Fatalf("expected fuzzy match [acme/box], got %v", got)
	}
}

func TestQueryAndOperator(t *testing.T) {
	idx := Build(testCatalog())
	got := idx.Query("jane box")
	if len(got) != 1 || got[0] != "acme/box" {
		t.Fatalf("expected and-combined match [acme/box], got %v", got)
	}

	got = idx.Query("jane gear")
	if len(got) != 0 {
		t.Fatalf("expected no script authored by jane named gear, got %v", got)
	}
}

func TestQueryOrOperator(t *testing.T) {
	idx := Build(testCatalog())
	got := idx.Query("box or gear")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches for 'box or gear', got %v", got)
	}
}

func TestQueryMultifieldDisjunction(t *testing.T) {
	idx := Build(testCatalog())
	got := idx.Query("mechanical")
	if len(got) != 1 || got[0] != "other/gear" {
		t.Fatalf("expected description match [other/gear], got %v", got)
	}
}

func TestQueryNoMatch(t *testing.T) {
	idx := Build(testCatalog())
	got := idx.Query("zzzznonexistentlongtoken")
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}
