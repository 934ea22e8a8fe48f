package rdb_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/label"
	"github.com/vktsdb/tsengine/rdb"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
)

func newAgg(k agg.Kind) (agg.Aggregator, error) { return agg.New(k, agg.Params{}) }

func TestSaveLoadRoundTrip(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: "__name__", Value: "cpu.user"}, {Name: "host", Value: "a"}})
	s := series.New(7, labels, series.DefaultOptions())

	for _, sm := range []sample.Sample{{Timestamp: 10, Value: 1}, {Timestamp: 20, Value: 2}, {Timestamp: 30, Value: 3}} {
		_, err := s.Append(sm.Timestamp, sm.Value, nil)
		require.NoError(t, err)
	}

	sumAgg, err := newAgg(agg.Sum)
	require.NoError(t, err)
	s.Rules = append(s.Rules, rule.New("r1", 99, sumAgg, 1000, 0))

	var buf bytes.Buffer
	require.NoError(t, rdb.SaveSeries(&buf, s))

	loaded, err := rdb.LoadSeries(&buf, 7, in, newAgg)
	require.NoError(t, err)

	assert.Equal(t, s.TotalSamples, loaded.TotalSamples)
	assert.Equal(t, s.FirstTimestamp, loaded.FirstTimestamp)
	assert.Equal(t, s.LastSample, loaded.LastSample)
	assert.Equal(t, 1, len(loaded.Rules))
	assert.Equal(t, uint64(99), loaded.Rules[0].DestID)
	assert.Equal(t, int64(1000), loaded.Rules[0].BucketDurationMS)

	name, ok := loaded.Labels.Get("__name__")
	assert.True(t, ok)
	assert.Equal(t, "cpu.user", name)

	got, err := sample.Drain(loaded.RangeIter(0, 100, sample.Forward))
	require.NoError(t, err)
	assert.Equal(t, []sample.Sample{{Timestamp: 10, Value: 1}, {Timestamp: 20, Value: 2}, {Timestamp: 30, Value: 3}}, got)
}

// TestSaveLoadRoundTripMultiChunk exercises a series with more than one
// sealed chunk (a tiny ChunkSizeBytes forces an early seal), guarding
// against writeSeries/LoadSeries disagreeing on how many chunk payloads
// follow the header.
func TestSaveLoadRoundTripMultiChunk(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: "__name__", Value: "cpu.user"}})
	opts := series.DefaultOptions()
	opts.ChunkSizeBytes = 32
	s := series.New(7, labels, opts)

	var want []sample.Sample
	for i := int64(0); i < 20; i++ {
		sm := sample.Sample{Timestamp: i * 10, Value: float64(i)}
		_, err := s.Append(sm.Timestamp, sm.Value, nil)
		require.NoError(t, err)
		want = append(want, sm)
	}
	require.Greater(t, s.NumChunks(), 1)

	var buf bytes.Buffer
	require.NoError(t, rdb.SaveSeries(&buf, s))

	loaded, err := rdb.LoadSeries(&buf, 7, in, newAgg)
	require.NoError(t, err)

	got, err := sample.Drain(loaded.RangeIter(0, 1000, sample.Forward))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, s.TotalSamples, loaded.TotalSamples)
}

func TestSaveLoadEmptySeries(t *testing.T) {
	in := label.NewInterner()
	labels := label.New(in, []label.Pair{{Name: "__name__", Value: "empty"}})
	s := series.New(1, labels, series.DefaultOptions())

	var buf bytes.Buffer
	require.NoError(t, rdb.SaveSeries(&buf, s))

	loaded, err := rdb.LoadSeries(&buf, 1, in, newAgg)
	require.NoError(t, err)
	assert.False(t, loaded.HasData())
}
