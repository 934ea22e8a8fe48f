package dup_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vktsdb/tsengine/dup"
)

func TestParseRoundTripsWithString(t *testing.T) {
	for _, p := range []dup.Policy{dup.Block, dup.First, dup.Last, dup.Min, dup.Max, dup.Sum} {
		parsed, err := dup.Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestParseEmptyStringDefaultsToBlock(t *testing.T) {
	p, err := dup.Parse("")
	require.NoError(t, err)
	assert.Equal(t, dup.Block, p)
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := dup.Parse("nonsense")
	assert.Error(t, err)
}

func TestResolveBlockReturnsNotOK(t *testing.T) {
	_, ok := dup.Resolve(dup.Block, 1, 2)
	assert.False(t, ok)
}

func TestResolveFirstKeepsOld(t *testing.T) {
	v, ok := dup.Resolve(dup.First, 10, 20)
	require.True(t, ok)
	assert.Equal(t, float64(10), v)
}

func TestResolveLastTakesNew(t *testing.T) {
	v, ok := dup.Resolve(dup.Last, 10, 20)
	require.True(t, ok)
	assert.Equal(t, float64(20), v)
}

func TestResolveMinAndMax(t *testing.T) {
	v, ok := dup.Resolve(dup.Min, 10, 20)
	require.True(t, ok)
	assert.Equal(t, float64(10), v)

	v, ok = dup.Resolve(dup.Max, 10, 20)
	require.True(t, ok)
	assert.Equal(t, float64(20), v)
}

func TestResolveSumAdds(t *testing.T) {
	v, ok := dup.Resolve(dup.Sum, 10, 20)
	require.True(t, ok)
	assert.Equal(t, float64(30), v)
}

func TestToleranceWithinWindow(t *testing.T) {
	tol := dup.Tolerance{MaxTimeDelta: 100, MaxValueDiff: 0.5}
	assert.True(t, tol.WithinWindow(150, 10.4, 100, 10.0))
	assert.False(t, tol.WithinWindow(250, 10.4, 100, 10.0)) // too far apart in time
	assert.False(t, tol.WithinWindow(150, 11.0, 100, 10.0)) // too far apart in value
}

func TestToleranceNaNValueDiffNeverMatches(t *testing.T) {
	tol := dup.Tolerance{MaxTimeDelta: 1000, MaxValueDiff: math.NaN()}
	assert.False(t, tol.WithinWindow(100, 10, 100, 10))
}
