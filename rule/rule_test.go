package rule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/rule"
)

func TestAlignDefault(t *testing.T) {
	a, err := agg.New(agg.Sum, agg.Params{})
	assert.NoError(t, err)
	r := rule.New("r1", 1, a, 1000, 0)
	assert.Equal(t, int64(5000), r.Align(5500))
	assert.Equal(t, int64(5000), r.Align(5999))
	assert.Equal(t, int64(6000), r.Align(6000))
}

func TestAlignWithOffset(t *testing.T) {
	a, err := agg.New(agg.Sum, agg.Params{})
	assert.NoError(t, err)
	r := rule.New("r1", 1, a, 1000, 300)
	assert.Equal(t, int64(300), r.Align(300))
	assert.Equal(t, int64(300), r.Align(1299))
	assert.Equal(t, int64(1300), r.Align(1300))
}

func TestCloneResetsBucketState(t *testing.T) {
	a, err := agg.New(agg.Sum, agg.Params{})
	assert.NoError(t, err)
	r := rule.New("r1", 1, a, 1000, 0)
	start := int64(2000)
	r.BucketStart = &start
	r.Aggregator.Update(2500, 42)

	clone := r.Clone()
	assert.Nil(t, clone.BucketStart)
	assert.Equal(t, r.DestID, clone.DestID)
	assert.Equal(t, r.BucketDurationMS, clone.BucketDurationMS)
	v, ok := clone.Aggregator.Current()
	assert.False(t, ok)
	assert.Equal(t, 0.0, v)
}
