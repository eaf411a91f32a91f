// Package search implements the full-text index over the latest version of
// each catalog namespace: boolean and/or queries, multi-field disjunction,
// and per-token fuzziness of edit distance 1. See spec §4.1, §9.
package search

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/occi-cad/occi-server/internal/script"
)

// SearchableFields names the script fields indexed for full-text search,
// matching original_source/occilib/CadLibrarySearch.py's SEARCHABLE_FIELDS.
var SearchableFields = []string{"name", "author", "org", "description", "units", "code", "engine"}

// Index is a small inverted index: token -> set of namespaces whose
// searchable fields contain it.
type Index struct {
	postings map[string]map[string]bool
	vocab    []string // sorted, deduplicated, for fuzzy fallback ranking
}

// Build constructs an index over the given namespace -> script map (callers
// pass the catalog's latest-per-namespace snapshot, per spec §4.1: "across
// the latest version of each namespace").
func Build(latest map[string]*script.Script) *Index {
	idx := &Index{postings: make(map[string]map[string]bool)}
	vocabSet := make(map[string]bool)

	for ns, s := range latest {
		for _, field := range searchableFieldValues(s) {
			for _, tok := range tokenize(field) {
				if idx.postings[tok] == nil {
					idx.postings[tok] = make(map[string]bool)
				}
				idx.postings[tok][ns] = true
				vocabSet[tok] = true
			}
		}
	}

	idx.vocab = make([]string, 0, len(vocabSet))
	for tok := range vocabSet {
		idx.vocab = append(idx.vocab, tok)
	}
	sort.Strings(idx.vocab)
	return idx
}

func searchableFieldValues(s *script.Script) []string {
	return []string{
		s.Name,
		s.Metadata.Author,
		s.Org,
		s.Metadata.Description,
		string(s.Metadata.Units),
		s.Code,
		string(s.EngineTag),
	}
}

// tokenize lowercases and splits on anything that isn't a letter or digit.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return toks
}

// Query evaluates q against the index and returns matching namespaces,
// sorted for deterministic output. Query syntax: terms separated by
// whitespace form an implicit AND group; " or " (case-insensitive)
// separates AND-groups that are OR'd together, matching
// original_source/occilib/CadLibrarySearch.py's MultifieldParser with
// OperatorsPlugin(And=" and ", Or=" or "). Every term is matched with
// fuzziness of edit distance 1, as the original always appends "~1".
func (idx *Index) Query(q string) []string {
	orGroups := strings.Split(strings.ToLower(q), " or ")

	matched := make(map[string]bool)
	for _, group := range orGroups {
		andTerms := splitAndTerms(group)
		if len(andTerms) == 0 {
			continue
		}
		groupMatches := idx.matchAll(andTerms[0])
		for _, term := range andTerms[1:] {
			termMatches := idx.matchAll(term)
			groupMatches = intersect(groupMatches, termMatches)
		}
		for ns := range groupMatches {
			matched[ns] = true
		}
	}

	out := make([]string, 0, len(matched))
	for ns := range matched {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// matchAll returns the set of namespaces containing a token within edit
// distance 1 of term, falling back to the fuzzy package's subsequence
// ranking (see SPEC_FULL.md/DESIGN.md) when no token is within distance 1,
// per the design notes' "n-gram fallback when the exact term is not found".
func (idx *Index) matchAll(term string) map[string]bool {
	out := make(map[string]bool)
	exact := false
	for tok, namespaces := range idx.postings {
		if editDistanceAtMost(term, tok, 1) {
			exact = true
			for ns := range namespaces {
				out[ns] = true
			}
		}
	}
	if exact {
		return out
	}

	ranked := fuzzy.Find(term, idx.vocab)
	for _, m := range ranked {
		tok := idx.vocab[m.Index]
		for ns := range idx.postings[tok] {
			out[ns] = true
		}
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// splitAndTerms splits a group on whitespace or the literal word "and",
// both acting as implicit/explicit AND separators.
func splitAndTerms(group string) []string {
	fields := strings.Fields(group)
	var out []string
	for _, f := range fields {
		if f == "and" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// editDistanceAtMost reports whether the Levenshtein distance between a and
// b is <= max, short-circuiting on length difference.
func editDistanceAtMost(a, b string, max int) bool {
	if abs(len(a)-len(b)) > max {
		return false
	}
	// Classic dynamic-programming edit distance; a and b are short tokens so
	// the O(len(a)*len(b)) cost is negligible.
	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(b)] <= max
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
