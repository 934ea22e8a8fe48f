package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vktsdb/tsengine/stats"
)

func TestCounterIncAndAdd(t *testing.T) {
	r := stats.New()
	r.Inc(stats.AppendCount)
	r.Add(stats.AppendCount, 2)

	mfs, err := r.Gatherer().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestHistogramObserve(t *testing.T) {
	r := stats.New()
	r.Observe(stats.AppendLatency, 5*time.Millisecond)
	mfs, err := r.Gatherer().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestGaugeSet(t *testing.T) {
	r := stats.New()
	r.Set(stats.SeriesGauge, 3)
	mfs, err := r.Gatherer().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestUnknownNameIsNoop(t *testing.T) {
	r := stats.New()
	assert.NotPanics(t, func() {
		r.Inc("no.such.metric")
		r.Add("no.such.metric", 1)
		r.Observe("no.such.metric", time.Second)
		r.Set("no.such.metric", 1)
	})
}
