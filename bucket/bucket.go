// Package bucket implements the bucket aggregation iterator (component
// E): wraps a source sample.Iterator and emits one Sample per aligned
// time bucket, folding every sample that lands in the bucket through an
// agg.Aggregator (spec §4.E).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/sample"
)

// Alignment selects how the first bucket boundary is anchored.
type Alignment struct {
	Kind      AlignKind
	Timestamp int64 // used only when Kind == AlignTimestamp
}

type AlignKind uint8

const (
	AlignDefault AlignKind = iota
	AlignStart
	AlignEnd
	AlignTimestamp
)

func (a Alignment) anchor(rangeStart, rangeEnd int64) int64 {
	switch a.Kind {
	case AlignStart:
		return rangeStart
	case AlignEnd:
		return rangeEnd
	case AlignTimestamp:
		return a.Timestamp
	default:
		return 0
	}
}

// TimestampOutput selects which edge of the bucket becomes the emitted
// timestamp.
type TimestampOutput uint8

const (
	OutputStart TimestampOutput = iota
	OutputMid
	OutputEnd
)

func (o TimestampOutput) compute(bucketStart, dur int64) int64 {
	switch o {
	case OutputMid:
		return bucketStart + dur/2
	case OutputEnd:
		return bucketStart + dur
	default:
		return bucketStart
	}
}

// align(t) = t - ((t - alignTS) mod dur + dur) mod dur, per spec §4.E
// step 1 — always returns a boundary <= t regardless of the sign of the
// raw Go modulo result.
func align(t, alignTS, dur int64) int64 {
	offset := ((t-alignTS)%dur + dur) % dur
	return t - offset
}

// Config bundles a bucket iterator's construction-time parameters.
type Config struct {
	BucketDurationMS     int64
	Alignment            Alignment
	TimestampOutput      TimestampOutput
	ReportEmpty          bool
	RangeStart, RangeEnd int64
}

// Iterator streams buckets lazily over src, finalizing and emitting one
// Sample per populated (or, with ReportEmpty, gap) bucket. Not
// restartable, per spec §4.E contract.
type Iterator struct {
	src sample.Iterator
	cfg Config
	agg agg.Aggregator

	alignTS int64

	started     bool
	done        bool
	bucketStart int64
	bucketEnd   int64

	// queued holds buckets already finalized but not yet returned via
	// At(): the just-closed real bucket followed by any empty-bucket
	// fillers needed to reach the next real sample's bucket.
	queued []sample.Sample
	qpos   int

	at  sample.Sample
	err error
}

// New composes a bucket aggregation iterator over src.
func New(src sample.Iterator, cfg Config, a agg.Aggregator) *Iterator {
	return &Iterator{
		src:     src,
		cfg:     cfg,
		agg:     a,
		alignTS: cfg.Alignment.anchor(cfg.RangeStart, cfg.RangeEnd),
	}
}

func (it *Iterator) Err() error        { return it.err }
func (it *Iterator) At() sample.Sample { return it.at }

func (it *Iterator) output(ts int64, v float64) sample.Sample {
	return sample.Sample{Timestamp: it.cfg.TimestampOutput.compute(ts, it.cfg.BucketDurationMS), Value: v}
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.qpos < len(it.queued) {
		it.at = it.queued[it.qpos]
		it.qpos++
		return true
	}
	it.queued = it.queued[:0]
	it.qpos = 0

	for {
		if it.done {
			return false
		}
		if !it.src.Next() {
			if err := it.src.Err(); err != nil {
				it.err = err
				return false
			}
			it.done = true
			if !it.started {
				return false
			}
			it.at = it.output(it.bucketStart, it.agg.Finalize())
			return true
		}

		s := it.src.At()

		if !it.started {
			it.started = true
			it.bucketStart = align(s.Timestamp, it.alignTS, it.cfg.BucketDurationMS)
			it.bucketEnd = it.bucketStart + it.cfg.BucketDurationMS
			it.agg.Update(s.Timestamp, s.Value)
			continue
		}

		if s.Timestamp < it.bucketEnd {
			it.agg.Update(s.Timestamp, s.Value)
			continue
		}

		// sample belongs to a later bucket: finalize, queue empty
		// fillers for any skipped buckets, then open the new bucket at
		// align(sample.ts) (not prev_bucket_end + dur).
		closed := it.output(it.bucketStart, it.agg.Finalize())
		newStart := align(s.Timestamp, it.alignTS, it.cfg.BucketDurationMS)

		it.queued = append(it.queued, closed)
		if it.cfg.ReportEmpty {
			for gap := it.bucketStart + it.cfg.BucketDurationMS; gap < newStart; gap += it.cfg.BucketDurationMS {
				it.queued = append(it.queued, it.output(gap, it.agg.EmptyValue()))
			}
		}

		it.bucketStart = newStart
		it.bucketEnd = newStart + it.cfg.BucketDurationMS
		it.agg.Update(s.Timestamp, s.Value)

		it.at = it.queued[0]
		it.qpos = 1
		return true
	}
}
