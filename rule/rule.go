// Package rule defines the compaction rule metadata attached to a source
// series (spec §3 "Compaction rule", §4.I). Rule itself carries no
// propagation behavior — the compaction engine (component I) owns the
// on-append/on-upsert/on-remove-range logic and operates on *series.Series
// instances directly, keeping this package a leaf with no dependency on
// series or compact and avoiding an import cycle between the two.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rule

import "github.com/vktsdb/tsengine/agg"

// Rule binds a source series to a destination series via an aggregator
// that folds samples into fixed-width time buckets.
type Rule struct {
	ID     string
	DestID uint64

	Aggregator agg.Aggregator

	BucketDurationMS int64
	AlignTimestamp    int64 // bucket boundary alignment offset, spec §4.E "align(t)"

	// BucketStart is the timestamp of the bucket currently accumulating
	// in Aggregator, nil until the first sample lands. The compaction
	// engine re-aligns per incoming sample (spec §9 open question 1),
	// flushing and recreating this whenever a sample's bucket differs.
	BucketStart *int64
}

// New constructs a Rule in its initial, empty-bucket state.
func New(id string, destID uint64, a agg.Aggregator, bucketDurationMS, alignTimestamp int64) *Rule {
	return &Rule{
		ID:               id,
		DestID:           destID,
		Aggregator:       a,
		BucketDurationMS: bucketDurationMS,
		AlignTimestamp:   alignTimestamp,
	}
}

// Align returns the start of the bucket containing ts, per spec §4.E:
// align(t) = t - ((t - AlignTimestamp) mod BucketDurationMS).
func (r *Rule) Align(ts int64) int64 {
	d := r.BucketDurationMS
	if d <= 0 {
		return ts
	}
	offset := (ts - r.AlignTimestamp) % d
	if offset < 0 {
		offset += d
	}
	return ts - offset
}

// Clone returns a Rule with a freshly reset aggregator of the same kind
// and parameters, same ID/DestID/BucketDurationMS/AlignTimestamp, with no
// in-progress bucket. Used when a rule is recreated rather than mutated
// (spec §9 open question 2).
func (r *Rule) Clone() *Rule {
	return &Rule{
		ID:               r.ID,
		DestID:           r.DestID,
		Aggregator:       r.Aggregator.Clone(),
		BucketDurationMS: r.BucketDurationMS,
		AlignTimestamp:   r.AlignTimestamp,
	}
}
