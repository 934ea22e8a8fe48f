package rangeiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/rangeiter"
	"github.com/vktsdb/tsengine/sample"
)

func drain(it sample.Iterator) []sample.Sample {
	out, _ := sample.Drain(it)
	return out
}

func TestValueFilterInclusiveBounds(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{
		{Timestamp: 1, Value: 0}, {Timestamp: 2, Value: 5}, {Timestamp: 3, Value: 10}, {Timestamp: 4, Value: 11},
	})
	got := drain(rangeiter.WithValueFilter(src, 0, 10))
	assert.Equal(t, []sample.Sample{
		{Timestamp: 1, Value: 0}, {Timestamp: 2, Value: 5}, {Timestamp: 3, Value: 10},
	}, got)
}

func TestTimestampFilterLinear(t *testing.T) {
	samples := make([]sample.Sample, 0, 20)
	for i := int64(0); i < 20; i++ {
		samples = append(samples, sample.Sample{Timestamp: i, Value: float64(i)})
	}
	src := sample.NewSliceIterator(samples)
	got := drain(rangeiter.WithTimestampFilter(src, []int64{3, 17}))
	assert.Equal(t, []sample.Sample{{Timestamp: 3, Value: 3}, {Timestamp: 17, Value: 17}}, got)
}

func TestTimestampFilterBinarySearchPath(t *testing.T) {
	samples := make([]sample.Sample, 0, 40)
	want := make([]int64, 0, 20)
	for i := int64(0); i < 40; i++ {
		samples = append(samples, sample.Sample{Timestamp: i, Value: float64(i)})
		if i%2 == 0 {
			want = append(want, i) // 20 distinct targets: past the linear-scan threshold
		}
	}
	src := sample.NewSliceIterator(samples)
	got := drain(rangeiter.WithTimestampFilter(src, want))
	assert.Len(t, got, 20)
	assert.Equal(t, int64(0), got[0].Timestamp)
	assert.Equal(t, int64(38), got[len(got)-1].Timestamp)
}

func TestReduceFoldsSameTimestamp(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{
		{Timestamp: 10, Value: 1}, {Timestamp: 10, Value: 2}, {Timestamp: 20, Value: 3},
	})
	it := rangeiter.WithReduce(src, func() agg.Aggregator {
		a, _ := agg.New(agg.Sum, agg.Params{})
		return a
	})
	got := drain(it)
	assert.Equal(t, []sample.Sample{{Timestamp: 10, Value: 3}, {Timestamp: 20, Value: 3}}, got)
}

func TestWithReverseBuffers(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{
		{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}, {Timestamp: 3, Value: 3},
	})
	got := drain(rangeiter.WithReverse(src))
	assert.Equal(t, []sample.Sample{{Timestamp: 3, Value: 3}, {Timestamp: 2, Value: 2}, {Timestamp: 1, Value: 1}}, got)
}

func TestWithLimit(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{
		{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}, {Timestamp: 3, Value: 3},
	})
	got := drain(rangeiter.WithLimit(src, 2))
	assert.Equal(t, []sample.Sample{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}}, got)
}

func TestWithLimitZeroMeansUnlimited(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{{Timestamp: 1, Value: 1}})
	got := drain(rangeiter.WithLimit(src, 0))
	assert.Equal(t, []sample.Sample{{Timestamp: 1, Value: 1}}, got)
}

func TestWithLatestSplicesVirtualSample(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{{Timestamp: 1, Value: 1}})
	virtual := sample.Sample{Timestamp: 2, Value: 99}
	got := drain(rangeiter.WithLatest(src, virtual, true))
	assert.Equal(t, []sample.Sample{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 99}}, got)
}

func TestWithLatestNoVirtualWhenNotHave(t *testing.T) {
	src := sample.NewSliceIterator([]sample.Sample{{Timestamp: 1, Value: 1}})
	got := drain(rangeiter.WithLatest(src, sample.Sample{}, false))
	assert.Equal(t, []sample.Sample{{Timestamp: 1, Value: 1}}, got)
}
