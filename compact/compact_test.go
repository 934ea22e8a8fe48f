package compact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/compact"
	"github.com/vktsdb/tsengine/label"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
)

type fakeStore struct {
	m map[uint64]*series.Series
}

func newFakeStore() *fakeStore { return &fakeStore{m: make(map[uint64]*series.Series)} }

func (s *fakeStore) Get(id uint64) (*series.Series, bool) {
	ser, ok := s.m[id]
	return ser, ok
}

func newSeries(id uint64, name string) *series.Series {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: "__name__", Value: name}})
	return series.New(id, labels, series.DefaultOptions())
}

func sumRule(id string, destID uint64, bucketMS int64) *rule.Rule {
	a, _ := agg.New(agg.Sum, agg.Params{})
	return rule.New(id, destID, a, bucketMS, 0)
}

func TestAddRuleRejectsSelfCycle(t *testing.T) {
	store := newFakeStore()
	e := compact.New(store)
	err := e.AddRule(1, sumRule("r", 1, 1000))
	assert.Error(t, err)
}

func TestAddRuleRejectsTransitiveCycle(t *testing.T) {
	store := newFakeStore()
	e := compact.New(store)
	require.NoError(t, e.AddRule(1, sumRule("r1", 2, 1000)))
	err := e.AddRule(2, sumRule("r2", 1, 1000))
	assert.Error(t, err)
}

func TestOnAppendFlushesAtBucketBoundary(t *testing.T) {
	store := newFakeStore()
	src := newSeries(1, "src")
	dest := newSeries(2, "src_sum_1000ms")
	store.m[1] = src
	store.m[2] = dest

	e := compact.New(store)
	require.NoError(t, e.AddRule(1, sumRule("r1", 2, 1000)))

	ctx := context.Background()
	require.NoError(t, e.OnAppend(ctx, 1, sample.Sample{Timestamp: 100, Value: 1}))
	require.NoError(t, e.OnAppend(ctx, 1, sample.Sample{Timestamp: 200, Value: 2}))
	// No flush yet: still inside bucket [0,999].
	assert.False(t, dest.HasData())

	require.NoError(t, e.OnAppend(ctx, 1, sample.Sample{Timestamp: 1500, Value: 4}))
	got, err := sample.Drain(dest.RangeIter(0, 10000, sample.Forward))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].Timestamp)
	assert.Equal(t, float64(3), got[0].Value)
}

func TestOnRemoveRangeFullyContainedBucketDropsPoint(t *testing.T) {
	store := newFakeStore()
	src := newSeries(1, "src")
	dest := newSeries(2, "dest")
	store.m[1] = src
	store.m[2] = dest

	e := compact.New(store)
	r := sumRule("r1", 2, 1000)
	require.NoError(t, e.AddRule(1, r))

	_, err := src.Append(100, 1, nil)
	require.NoError(t, err)
	_, err = dest.Append(0, 1, nil)
	require.NoError(t, err)

	require.NoError(t, e.OnRemoveRange(src, 1, 0, 999))
	assert.False(t, dest.HasData())
}

func TestOnRemoveRangeClearsOpenBucketWhenEmptied(t *testing.T) {
	store := newFakeStore()
	src := newSeries(1, "src")
	dest := newSeries(2, "dest")
	store.m[1] = src
	store.m[2] = dest

	e := compact.New(store)
	r := sumRule("r1", 2, 10)
	require.NoError(t, e.AddRule(1, r))

	ctx := context.Background()
	for _, s := range []sample.Sample{{Timestamp: 5, Value: 10}, {Timestamp: 7, Value: 20}, {Timestamp: 15, Value: 30}} {
		_, err := src.Append(s.Timestamp, s.Value, nil)
		require.NoError(t, err)
		require.NoError(t, e.OnAppend(ctx, 1, s))
	}
	// Open bucket is now [10,20) holding just the sample at 15.

	require.NoError(t, e.OnRemoveRange(src, 1, 5, 15))
	src.RemoveRange(5, 15)

	_, err := src.Append(20, 50, nil)
	require.NoError(t, err)
	require.NoError(t, e.OnAppend(ctx, 1, sample.Sample{Timestamp: 20, Value: 50}))

	// Nothing should have flushed a stale/empty bucket to dest.
	assert.False(t, dest.HasData())
}

func TestGCStaleRulesDropsRuleWithMissingDest(t *testing.T) {
	store := newFakeStore()
	src := newSeries(1, "src")
	store.m[1] = src

	e := compact.New(store)
	require.NoError(t, e.AddRule(1, sumRule("r1", 99, 1000)))
	assert.Len(t, e.Rules(1), 1)

	e.GCStaleRules(1)
	assert.Len(t, e.Rules(1), 0)
}

func TestDeleteRuleRemovesByID(t *testing.T) {
	store := newFakeStore()
	e := compact.New(store)
	require.NoError(t, e.AddRule(1, sumRule("r1", 2, 1000)))
	require.NoError(t, e.AddRule(1, sumRule("r2", 3, 1000)))

	ok := e.DeleteRule(1, "r1")
	assert.True(t, ok)
	assert.Len(t, e.Rules(1), 1)
	assert.Equal(t, "r2", e.Rules(1)[0].ID)
}
