// Package rangeiter composes the range iterator stack (component F):
// source → value filter → timestamp filter → bucket aggregation →
// group-reduce → reverse adapter → limit, plus the LATEST virtual-sample
// splice, built without intermediate boxing until the outermost return
// (spec §4.F).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rangeiter

import (
	"sort"

	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/bucket"
	"github.com/vktsdb/tsengine/sample"
)

// valueFilter keeps samples with value in [min, max] inclusive.
type valueFilter struct {
	src      sample.Iterator
	min, max float64
	at       sample.Sample
}

// WithValueFilter wraps src, dropping any sample outside [min, max].
func WithValueFilter(src sample.Iterator, min, max float64) sample.Iterator {
	return &valueFilter{src: src, min: min, max: max}
}

func (it *valueFilter) Next() bool {
	for it.src.Next() {
		s := it.src.At()
		if s.Value >= it.min && s.Value <= it.max {
			it.at = s
			return true
		}
	}
	return false
}
func (it *valueFilter) At() sample.Sample { return it.at }
func (it *valueFilter) Err() error        { return it.src.Err() }

// timestampFilter keeps only samples whose timestamp is in the supplied
// set. A small set (≤16) is scanned linearly; larger sets use a sorted
// slice with binary search, per spec §4.F step 3.
type timestampFilter struct {
	src  sample.Iterator
	set  []int64 // sorted
	at   sample.Sample
}

const timestampFilterLinearThreshold = 16

// WithTimestampFilter wraps src, keeping only samples at the given
// timestamps.
func WithTimestampFilter(src sample.Iterator, timestamps []int64) sample.Iterator {
	set := append([]int64(nil), timestamps...)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return &timestampFilter{src: src, set: set}
}

func (it *timestampFilter) contains(ts int64) bool {
	if len(it.set) <= timestampFilterLinearThreshold {
		for _, t := range it.set {
			if t == ts {
				return true
			}
		}
		return false
	}
	i := sort.Search(len(it.set), func(i int) bool { return it.set[i] >= ts })
	return i < len(it.set) && it.set[i] == ts
}

func (it *timestampFilter) Next() bool {
	for it.src.Next() {
		s := it.src.At()
		if it.contains(s.Timestamp) {
			it.at = s
			return true
		}
	}
	return false
}
func (it *timestampFilter) At() sample.Sample { return it.at }
func (it *timestampFilter) Err() error        { return it.src.Err() }

// WithBucketAggregation layers bucket aggregation (component E) atop src.
func WithBucketAggregation(src sample.Iterator, cfg bucket.Config, a agg.Aggregator) sample.Iterator {
	return bucket.New(src, cfg, a)
}

// reduceIterator folds consecutive samples sharing the same timestamp
// through a caller-supplied aggregator (GROUP-BY-REDUCE, spec §4.F
// step 5).
type reduceIterator struct {
	src      sample.Iterator
	newAgg   func() agg.Aggregator
	pending  sample.Sample
	havePend bool
	done     bool
	at       sample.Sample
}

// WithReduce folds runs of same-timestamp samples via a fresh aggregator
// per run.
func WithReduce(src sample.Iterator, newAgg func() agg.Aggregator) sample.Iterator {
	return &reduceIterator{src: src, newAgg: newAgg}
}

func (it *reduceIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.havePend {
		if !it.src.Next() {
			it.done = true
			return false
		}
		it.pending = it.src.At()
		it.havePend = true
	}

	a := it.newAgg()
	ts := it.pending.Timestamp
	a.Update(it.pending.Timestamp, it.pending.Value)
	it.havePend = false

	for it.src.Next() {
		s := it.src.At()
		if s.Timestamp != ts {
			it.pending = s
			it.havePend = true
			break
		}
		a.Update(s.Timestamp, s.Value)
	}
	if !it.havePend {
		it.done = true
	}
	it.at = sample.Sample{Timestamp: ts, Value: a.Finalize()}
	return true
}
func (it *reduceIterator) At() sample.Sample { return it.at }
func (it *reduceIterator) Err() error        { return it.src.Err() }

// bufferedReverse materializes src and replays it back to front — used
// only when the underlying source cannot iterate in reverse on its own
// (spec §4.F step 6: "materializes ... iff the underlying source is not
// reversible").
type bufferedReverse struct {
	buf []sample.Sample
	idx int
	at  sample.Sample
	err error
}

// WithReverse reverses src by buffering it fully. Callers that can
// instead request sample.Reverse direction from the base iterator should
// do so and skip this layer (it is the fallback path, e.g. after a
// bucket-aggregation or reduce layer has made the source non-reversible).
func WithReverse(src sample.Iterator) sample.Iterator {
	samples, err := sample.Drain(src)
	if err != nil {
		return &bufferedReverse{err: err}
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return &bufferedReverse{buf: samples}
}

func (it *bufferedReverse) Next() bool {
	if it.err != nil || it.idx >= len(it.buf) {
		return false
	}
	it.at = it.buf[it.idx]
	it.idx++
	return true
}
func (it *bufferedReverse) At() sample.Sample { return it.at }
func (it *bufferedReverse) Err() error        { return it.err }

// limitIterator caps output at count samples.
type limitIterator struct {
	src     sample.Iterator
	count   int
	emitted int
}

// WithLimit caps src at count samples; count <= 0 means unlimited.
func WithLimit(src sample.Iterator, count int) sample.Iterator {
	if count <= 0 {
		return src
	}
	return &limitIterator{src: src, count: count}
}

func (it *limitIterator) Next() bool {
	if it.emitted >= it.count {
		return false
	}
	if !it.src.Next() {
		return false
	}
	it.emitted++
	return true
}
func (it *limitIterator) At() sample.Sample { return it.src.At() }
func (it *limitIterator) Err() error        { return it.src.Err() }

// latestSplice appends a single virtual sample after src is exhausted,
// implementing the LATEST injection of spec §4.F: when a destination
// series is queried with LATEST and the query range extends beyond the
// last stored sample, the rule's currently-open bucket is surfaced as
// one more sample.
type latestSplice struct {
	src      sample.Iterator
	virtual  sample.Sample
	have     bool
	emitted  bool
	exhausted bool
	at       sample.Sample
}

// WithLatest splices a virtual trailing sample (the rule's in-flight
// bucket, if any) onto the end of src.
func WithLatest(src sample.Iterator, virtual sample.Sample, have bool) sample.Iterator {
	return &latestSplice{src: src, virtual: virtual, have: have}
}

func (it *latestSplice) Next() bool {
	if !it.exhausted {
		if it.src.Next() {
			it.at = it.src.At()
			return true
		}
		it.exhausted = true
	}
	if it.have && !it.emitted {
		it.emitted = true
		it.at = it.virtual
		return true
	}
	return false
}
func (it *latestSplice) At() sample.Sample { return it.at }
func (it *latestSplice) Err() error        { return it.src.Err() }
