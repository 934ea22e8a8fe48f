package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vktsdb/tsengine/index"
)

func newFixture() *index.Index {
	idx := index.New()
	idx.Add(1, "cpu.user{host=a}", []index.Pair{{Name: "__name__", Value: "cpu.user"}, {Name: "host", Value: "a"}})
	idx.Add(2, "cpu.user{host=b}", []index.Pair{{Name: "__name__", Value: "cpu.user"}, {Name: "host", Value: "b"}})
	idx.Add(3, "cpu.sys{host=a}", []index.Pair{{Name: "__name__", Value: "cpu.sys"}, {Name: "host", Value: "a"}})
	return idx
}

func TestEvalEqualAnd(t *testing.T) {
	idx := newFixture()
	sel := index.Selector{Groups: []index.AndGroup{{Matchers: []index.Matcher{
		{Label: "__name__", Predicate: index.Predicate{Kind: index.PredEqual, Value: "cpu.user"}},
		{Label: "host", Predicate: index.Predicate{Kind: index.PredEqual, Value: "a"}},
	}}}}
	bm := idx.Eval(sel)
	assert.Equal(t, uint64(1), bm.GetCardinality())
	assert.True(t, bm.Contains(1))
}

func TestEvalNotEqual(t *testing.T) {
	idx := newFixture()
	sel := index.Selector{Groups: []index.AndGroup{{Matchers: []index.Matcher{
		{Label: "__name__", Predicate: index.Predicate{Kind: index.PredEqual, Value: "cpu.user"}},
		{Label: "host", Predicate: index.Predicate{Kind: index.PredNotEqual, Value: "a"}},
	}}}}
	bm := idx.Eval(sel)
	assert.Equal(t, uint64(1), bm.GetCardinality())
	assert.True(t, bm.Contains(2))
}

func TestEvalOrUnion(t *testing.T) {
	idx := newFixture()
	sel := index.Selector{Groups: []index.AndGroup{
		{Matchers: []index.Matcher{{Label: "host", Predicate: index.Predicate{Kind: index.PredEqual, Value: "a"}}}},
		{Matchers: []index.Matcher{{Label: "host", Predicate: index.Predicate{Kind: index.PredEqual, Value: "b"}}}},
	}}
	bm := idx.Eval(sel)
	assert.Equal(t, uint64(3), bm.GetCardinality())
}

func TestEvalRegexFixedAlternation(t *testing.T) {
	idx := newFixture()
	sel := index.Selector{Groups: []index.AndGroup{{Matchers: []index.Matcher{
		{Label: "__name__", Predicate: index.Predicate{Kind: index.PredRegexEqual, Regex: "cpu.user|cpu.sys"}},
	}}}}
	bm := idx.Eval(sel)
	assert.Equal(t, uint64(3), bm.GetCardinality())

	// '.' is a metacharacter, so the pattern above goes through the
	// compiled regex; "a|b" has none and takes the direct value lookup.
	sel = index.Selector{Groups: []index.AndGroup{{Matchers: []index.Matcher{
		{Label: "host", Predicate: index.Predicate{Kind: index.PredRegexEqual, Regex: "a|b"}},
	}}}}
	assert.Equal(t, uint64(3), idx.Eval(sel).GetCardinality())
}

func TestRemovePrunesEmptySubmaps(t *testing.T) {
	idx := index.New()
	idx.Add(1, "k", []index.Pair{{Name: "host", Value: "a"}})
	idx.Remove(1, []index.Pair{{Name: "host", Value: "a"}})

	_, ok := idx.Key(1)
	assert.False(t, ok)

	sel := index.Selector{Groups: []index.AndGroup{{Matchers: []index.Matcher{
		{Label: "host", Predicate: index.Predicate{Kind: index.PredEqual, Value: "a"}},
	}}}}
	assert.Equal(t, uint64(0), idx.Eval(sel).GetCardinality())
}

func TestKeyReverseLookup(t *testing.T) {
	idx := newFixture()
	k, ok := idx.Key(2)
	assert.True(t, ok)
	assert.Equal(t, "cpu.user{host=b}", k)
}
