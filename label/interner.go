// Package label implements the label interner and metric name (component
// G): a deduplicated, process-wide string pool keyed by the raw bytes of
// "name=value", with a sorted-handle metric name on top (spec §3
// "Interned label", §4.G).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package label

import (
	"sort"
	"strings"
	"sync"
)

// NameLabel is the distinguished label carrying the metric name
// (spec §3 "the distinguished label __name__").
const NameLabel = "__name__"

// Handle is a stable reference to an interned "name=value" pair.
// Equality between handles is pointer (identity) equality, as spec §4.G
// requires ("Comparison uses handle identity").
type Handle struct {
	Name, Value string
}

// Interner is a concurrent-read string pool. Handles are not
// reference-counted and are never removed from the pool. Writes (new
// pairs) are serialized by mu; reads of already-interned pairs do not
// take the write path.
type Interner struct {
	mu   sync.RWMutex
	pool map[string]*Handle // key: "name=value" raw bytes
}

func NewInterner() *Interner {
	return &Interner{pool: make(map[string]*Handle)}
}

func (in *Interner) key(name, value string) string {
	var b strings.Builder
	b.Grow(len(name) + len(value) + 1)
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(value)
	return b.String()
}

// Intern returns the stable *Handle for (name, value), creating it on
// first use.
func (in *Interner) Intern(name, value string) *Handle {
	key := in.key(name, value)

	in.mu.RLock()
	h, ok := in.pool[key]
	in.mu.RUnlock()
	if ok {
		return h
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if h, ok := in.pool[key]; ok {
		return h
	}
	h = &Handle{Name: name, Value: value}
	in.pool[key] = h
	return h
}

// Lookup finds an already-interned handle without creating one.
func (in *Interner) Lookup(name, value string) (*Handle, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	h, ok := in.pool[in.key(name, value)]
	return h, ok
}

// Pair is a raw, non-interned label used at the host/RDB boundary, where
// persisted data round-trips as raw byte pairs and is re-interned on
// load (spec §9 "Interning and RDB").
type Pair struct {
	Name, Value string
}

// Labels is the canonical, sorted-by-name label set of a series
// (spec §3 "Label-set canonical form").
type Labels []*Handle

// New builds a canonical Labels from raw pairs, interning each one.
func New(in *Interner, pairs []Pair) Labels {
	out := make(Labels, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, in.Intern(p.Name, p.Value))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get binary-searches for a label by name (spec §4.G "lookup by label
// name binary-searches the prefix before '='").
func (l Labels) Get(name string) (string, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].Name >= name })
	if i < len(l) && l[i].Name == name {
		return l[i].Value, true
	}
	return "", false
}

// MetricName returns the value of the __name__ label, if present.
func (l Labels) MetricName() (string, bool) { return l.Get(NameLabel) }

// Equal compares two Labels by handle identity, per spec §4.G.
func (l Labels) Equal(o Labels) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if l[i] != o[i] {
			return false
		}
	}
	return true
}

func (l Labels) Pairs() []Pair {
	out := make([]Pair, len(l))
	for i, h := range l {
		out[i] = Pair{Name: h.Name, Value: h.Value}
	}
	return out
}
