package label_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vktsdb/tsengine/label"
)

func TestInternReturnsSameHandleForSamePair(t *testing.T) {
	in := label.NewInterner()
	a := in.Intern("host", "a")
	b := in.Intern("host", "a")
	assert.Same(t, a, b)
}

func TestInternDistinguishesDifferentPairs(t *testing.T) {
	in := label.NewInterner()
	a := in.Intern("host", "a")
	b := in.Intern("host", "b")
	assert.NotSame(t, a, b)
}

func TestLookupMissesWithoutCreating(t *testing.T) {
	in := label.NewInterner()
	_, ok := in.Lookup("host", "a")
	assert.False(t, ok)
	in.Intern("host", "a")
	h, ok := in.Lookup("host", "a")
	require.True(t, ok)
	assert.Equal(t, "a", h.Value)
}

func TestNewBuildsCanonicalSortedLabels(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{
		{Name: "zone", Value: "us"},
		{Name: "__name__", Value: "cpu"},
		{Name: "host", Value: "a"},
	})
	require.Len(t, labels, 3)
	assert.Equal(t, "__name__", labels[0].Name)
	assert.Equal(t, "host", labels[1].Name)
	assert.Equal(t, "zone", labels[2].Name)
}

func TestGetBinarySearchesByName(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{
		{Name: "b", Value: "2"},
		{Name: "a", Value: "1"},
		{Name: "c", Value: "3"},
	})
	v, ok := labels.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = labels.Get("missing")
	assert.False(t, ok)
}

func TestMetricNameReadsDistinguishedLabel(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: label.NameLabel, Value: "cpu_usage"}})
	name, ok := labels.MetricName()
	require.True(t, ok)
	assert.Equal(t, "cpu_usage", name)
}

func TestEqualComparesByHandleIdentity(t *testing.T) {
	in := label.NewInterner()
	a := label.New(in, []label.Pair{{Name: "host", Value: "a"}})
	b := label.New(in, []label.Pair{{Name: "host", Value: "a"}})
	assert.True(t, a.Equal(b))

	// A label set built from a different interner never shares handle
	// identity, even with identical name/value pairs.
	otherInterner := label.NewInterner()
	c := label.New(otherInterner, []label.Pair{{Name: "host", Value: "a"}})
	assert.False(t, a.Equal(c))
}

func TestPairsRoundTripsRawNameValue(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: "host", Value: "a"}, {Name: "zone", Value: "us"}})
	pairs := labels.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "host", pairs[0].Name)
	assert.Equal(t, "a", pairs[0].Value)
}
