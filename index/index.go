// Package index implements the posting index (component H): a selector
// → bitmap-of-series-IDs resolver backed by github.com/RoaringBitmap/roaring,
// plus the reverse series_id → series_key map used by the fan-out
// coordinator (spec §3 "Posting index", §4.H).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package index

import (
	"regexp"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Index is safe for concurrent use: a single RWMutex guards every
// structure (spec §5 "reader-writer lock held for the duration of a
// single selector evaluation or a single series create/delete").
type Index struct {
	mu sync.RWMutex

	// postings[label][value] = bitmap of series IDs carrying that pair.
	postings map[string]map[string]*roaring.Bitmap

	// reverse maps series_id -> series_key for fan-out reverse lookup.
	reverse map[uint64]string
}

func New() *Index {
	return &Index{
		postings: make(map[string]map[string]*roaring.Bitmap),
		reverse:  make(map[uint64]string),
	}
}

// Add registers seriesID under every (name, value) pair, and records its
// key for reverse lookup (spec §4.H "on create").
func (idx *Index) Add(seriesID uint64, key string, labels []Pair) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.reverse[seriesID] = key
	for _, p := range labels {
		values, ok := idx.postings[p.Name]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			idx.postings[p.Name] = values
		}
		bm, ok := values[p.Value]
		if !ok {
			bm = roaring.New()
			values[p.Value] = bm
		}
		bm.Add(uint32(seriesID))
	}
}

// Remove drops seriesID from every bitmap it belongs to, pruning empty
// value-submaps and label-submaps (spec §4.H "on delete").
func (idx *Index) Remove(seriesID uint64, labels []Pair) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.reverse, seriesID)
	for _, p := range labels {
		values, ok := idx.postings[p.Name]
		if !ok {
			continue
		}
		bm, ok := values[p.Value]
		if !ok {
			continue
		}
		bm.Remove(uint32(seriesID))
		if bm.IsEmpty() {
			delete(values, p.Value)
		}
		if len(values) == 0 {
			delete(idx.postings, p.Name)
		}
	}
}

// Key returns the series key for a series ID, for fan-out reverse lookup.
func (idx *Index) Key(seriesID uint64) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	k, ok := idx.reverse[seriesID]
	return k, ok
}

// Pair is a raw label pair, mirroring label.Pair to avoid index depending
// on the label package's interning machinery.
type Pair struct {
	Name, Value string
}

// Predicate is one of Equal/NotEqual/RegexEqual/RegexNotEqual (spec
// §4.H).
type Predicate struct {
	Kind  PredicateKind
	Value string   // Equal/NotEqual single value
	List  []string // Equal/NotEqual value list
	Regex string   // RegexEqual/RegexNotEqual
}

type PredicateKind uint8

const (
	PredEqual PredicateKind = iota
	PredNotEqual
	PredRegexEqual
	PredRegexNotEqual
)

// Matcher is {label, predicate}.
type Matcher struct {
	Label     string
	Predicate Predicate
}

// AndGroup is a conjunction of matchers.
type AndGroup struct {
	Matchers []Matcher
}

// Selector is a disjunction of AndGroups (spec §4.H "a selector is
// either And([matcher…]) or Or([and_group…])").
type Selector struct {
	Groups []AndGroup
}

// Eval resolves sel against the index, returning the union of every
// and-group's result.
func (idx *Index) Eval(sel Selector) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := roaring.New()
	for _, g := range sel.Groups {
		result.Or(idx.evalAndGroup(g))
	}
	return result
}

func (idx *Index) evalAndGroup(g AndGroup) *roaring.Bitmap {
	var candidate *roaring.Bitmap
	var negatives []Matcher

	for _, m := range g.Matchers {
		if isNegative(m.Predicate.Kind) {
			negatives = append(negatives, m)
			continue
		}
		bm := idx.matchBitmap(m)
		if candidate == nil {
			candidate = bm
		} else {
			candidate = roaring.And(candidate, bm)
		}
	}

	if candidate == nil {
		// No positive matcher: candidate set is "all series with the
		// first negative matcher's label present" (union across values).
		if len(negatives) > 0 {
			candidate = idx.allWithLabel(negatives[0].Label)
		} else {
			candidate = roaring.New()
		}
	}

	for _, m := range negatives {
		candidate = roaring.AndNot(candidate, idx.matchBitmap(m))
	}
	return candidate
}

func isNegative(k PredicateKind) bool {
	return k == PredNotEqual || k == PredRegexNotEqual
}

// allWithLabel returns the union of every value-bitmap for a label,
// i.e. every series that carries that label at all.
func (idx *Index) allWithLabel(name string) *roaring.Bitmap {
	out := roaring.New()
	for _, bm := range idx.postings[name] {
		out.Or(bm)
	}
	return out
}

// matchBitmap resolves one matcher to its (positive-sense) bitmap: for
// NotEqual/RegexNotEqual it returns the bitmap of series that DO match
// the underlying equality/regex, to be subtracted by the caller.
func (idx *Index) matchBitmap(m Matcher) *roaring.Bitmap {
	values, ok := idx.postings[m.Label]
	if !ok {
		return roaring.New()
	}
	switch m.Predicate.Kind {
	case PredEqual, PredNotEqual:
		return idx.unionValues(values, m.Predicate)
	case PredRegexEqual, PredRegexNotEqual:
		return idx.unionRegex(values, m.Predicate.Regex)
	default:
		return roaring.New()
	}
}

func (idx *Index) unionValues(values map[string]*roaring.Bitmap, p Predicate) *roaring.Bitmap {
	out := roaring.New()
	if p.Value != "" {
		if bm, ok := values[p.Value]; ok {
			out.Or(bm)
		}
	}
	for _, v := range p.List {
		if bm, ok := values[v]; ok {
			out.Or(bm)
		}
	}
	if p.Value == "" && len(p.List) == 0 {
		// Empty() predicate: matches the absence of a value, handled by
		// the caller treating "no bitmap" as the match; here we have no
		// values to match positively, so return empty — NotEqual+Empty
		// then degrades to "all series with label present" via the
		// negative path upstream.
	}
	return out
}

// unionRegex compiles the pattern once and unions every value's bitmap
// that matches. If the regex is a fixed alternation (`a|b|c` with no
// other metacharacters), short-circuit to a direct value-list lookup
// (spec §4.H "short-circuit to a direct value_list lookup").
func (idx *Index) unionRegex(values map[string]*roaring.Bitmap, pattern string) *roaring.Bitmap {
	out := roaring.New()
	if alts, ok := fixedAlternation(pattern); ok {
		for _, v := range alts {
			if bm, ok := values[v]; ok {
				out.Or(bm)
			}
		}
		return out
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return out
	}
	for v, bm := range values {
		if re.MatchString(v) {
			out.Or(bm)
		}
	}
	return out
}

// fixedAlternation detects a pattern of the exact shape "a|b|c" with no
// other regex metacharacters in any alternative, letting the caller skip
// a full regex scan.
func fixedAlternation(pattern string) ([]string, bool) {
	if pattern == "" {
		return nil, false
	}
	parts := splitAlternatives(pattern)
	for _, p := range parts {
		if containsMeta(p) {
			return nil, false
		}
	}
	return parts, true
}

func splitAlternatives(pattern string) []string {
	var out []string
	start := 0
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '|' {
			out = append(out, pattern[start:i])
			start = i + 1
		}
	}
	out = append(out, pattern[start:])
	return out
}

func containsMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '.', '*', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '\\', '|':
			return true
		}
	}
	return false
}
