package kahan_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vktsdb/tsengine/kahan"
)

func TestAccumulatorBasic(t *testing.T) {
	var a kahan.Accumulator
	a.Add(1)
	a.Add(2)
	a.Add(3)
	assert.Equal(t, 6.0, a.Value())
}

func TestAccumulatorPrecision(t *testing.T) {
	// Classic Kahan test: summing many small values after a huge one
	// should not lose precision the way naive summation does.
	var a kahan.Accumulator
	a.Add(1e16)
	for i := 0; i < 1000; i++ {
		a.Add(1)
	}
	a.Add(-1e16)
	got := a.Value()
	assert.InDelta(t, 1000.0, got, 1e-6)

	naive := 1e16
	for i := 0; i < 1000; i++ {
		naive += 1
	}
	naive += -1e16
	assert.NotEqual(t, 1000.0, naive, "naive summation should lose precision here, else the test is vacuous")
}

func TestAccumulatorReset(t *testing.T) {
	var a kahan.Accumulator
	a.Add(5)
	a.Reset()
	assert.Equal(t, 0.0, a.Value())
}

func TestAccumulatorNaN(t *testing.T) {
	var a kahan.Accumulator
	a.Add(1)
	a.Add(math.NaN())
	assert.True(t, math.IsNaN(a.Value()))
}
