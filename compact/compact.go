// Package compact implements the compaction engine (component I): rule
// storage, on-append/on-upsert/on-remove-range propagation, cycle
// detection, and stale-rule GC (spec §3 "Compaction rule", §4.I).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package compact

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/vktsdb/tsengine/cmn/cerr"
	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the "small threshold" of spec §4.I above which
// rules on the same source are processed in parallel.
const parallelThreshold = 2

// SeriesStore is the subset of engine storage compact needs: lookup by
// ID, used both to reach destination series and to walk the dependency
// graph for cycle detection.
type SeriesStore interface {
	Get(id uint64) (*series.Series, bool)
}

// Engine owns every compaction rule in the system, keyed by source
// series ID (spec §4.I "Rule storage").
type Engine struct {
	mu       sync.RWMutex
	store    SeriesStore
	rulesBySource map[uint64][]*rule.Rule
}

func New(store SeriesStore) *Engine {
	return &Engine{store: store, rulesBySource: make(map[uint64][]*rule.Rule)}
}

// AddRule registers a new rule srcID -> r.DestID after verifying it would
// not introduce a cycle in the compaction dependency graph (spec §4.I
// "Cycle prevention").
func (e *Engine) AddRule(srcID uint64, r *rule.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wouldCycle(srcID, r.DestID) {
		return cerr.New(cerr.CircularDependency, "compact.AddRule", "rule would create a cycle")
	}
	e.rulesBySource[srcID] = append(e.rulesBySource[srcID], r)
	return nil
}

// DeleteRule removes the rule with the given ID from srcID's rule set.
func (e *Engine) DeleteRule(srcID uint64, ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.rulesBySource[srcID]
	for i, r := range rules {
		if r.ID == ruleID {
			e.rulesBySource[srcID] = append(rules[:i], rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the rules attached to srcID (caller must not mutate the
// returned slice).
func (e *Engine) Rules(srcID uint64) []*rule.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rulesBySource[srcID]
}

// wouldCycle walks the dependency graph from dest: if src is reachable
// from dest via existing rules, adding src->dest introduces a cycle.
// Caller must hold e.mu.
func (e *Engine) wouldCycle(src, dest uint64) bool {
	if src == dest {
		return true
	}
	visited := map[uint64]bool{dest: true}
	queue := []uint64{dest}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range e.rulesBySource[cur] {
			if r.DestID == src {
				return true
			}
			if !visited[r.DestID] {
				visited[r.DestID] = true
				queue = append(queue, r.DestID)
			}
		}
	}
	return false
}

// OnAppend implements spec §4.I "On source append(sample)": for each
// rule on srcID, fold ts/value into the rule's in-flight bucket,
// flushing to the destination series when the sample crosses a bucket
// boundary, then recurse into the destination's own rules.
func (e *Engine) OnAppend(ctx context.Context, srcID uint64, s sample.Sample) error {
	rules := e.Rules(srcID)
	if len(rules) == 0 {
		return nil
	}
	if len(rules) <= parallelThreshold {
		for _, r := range rules {
			if err := e.applyAppend(ctx, r, s); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rules {
		r := r
		g.Go(func() error { return e.applyAppend(gctx, r, s) })
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "compact: parallel rule propagation")
	}
	return nil
}

func (e *Engine) applyAppend(ctx context.Context, r *rule.Rule, s sample.Sample) error {
	bucketTS := r.Align(s.Timestamp)

	switch {
	case r.BucketStart == nil:
		start := bucketTS
		r.BucketStart = &start
		r.Aggregator.Update(s.Timestamp, s.Value)
		return nil

	case bucketTS == *r.BucketStart:
		r.Aggregator.Update(s.Timestamp, s.Value)
		return nil

	case bucketTS > *r.BucketStart:
		flushedStart := *r.BucketStart
		finalized := r.Aggregator.Finalize()
		if err := e.writeDest(r, flushedStart, finalized); err != nil {
			return err
		}
		start := bucketTS
		r.BucketStart = &start
		r.Aggregator.Update(s.Timestamp, s.Value)
		return e.OnAppend(ctx, r.DestID, sample.Sample{Timestamp: flushedStart, Value: finalized})

	default:
		// Backfill into a historical bucket.
		return e.replayHistoricalBucket(r, bucketTS)
	}
}

// writeDest upserts a finalized bucket value into the rule's destination
// series with dup.Last ("KeepLast"), per spec §4.I.
func (e *Engine) writeDest(r *rule.Rule, ts int64, value float64) error {
	dest, ok := e.store.Get(r.DestID)
	if !ok {
		// The rule is not removed here: the failure is returned as
		// NotFound, and the rule stays registered until GCStaleRules is
		// called for its source. engine.Add discards propagation errors
		// and does not call GCStaleRules.
		return cerr.New(cerr.NotFound, "compact.writeDest", "destination series missing")
	}
	policy := dup.Last
	_, err := dest.Append(ts, value, &series.AppendOptions{PolicyOverride: &policy})
	return err
}

// replayHistoricalBucket does nothing: OnAppend has no source series
// reference from which to re-scan [bucketStart, bucketStart+dur).
// Historical replay happens in OnUpsert and OnRemoveRange below, which
// are given the source series.
func (e *Engine) replayHistoricalBucket(r *rule.Rule, bucketTS int64) error {
	// A backfill landing strictly before the open bucket is left
	// untouched here; OnUpsert/OnRemoveRange re-aggregate such buckets.
	_ = bucketTS
	return nil
}

// OnUpsert implements spec §4.I "On source upsert(sample)": replay the
// bucket containing the upserted sample from src, re-running the
// aggregator over the bucket's samples, and either leave the currently
// open bucket running or upsert the historical finalized value.
func (e *Engine) OnUpsert(ctx context.Context, src *series.Series, srcID uint64, s sample.Sample) error {
	for _, r := range e.Rules(srcID) {
		bucketTS := r.Align(s.Timestamp)
		if r.BucketStart != nil && bucketTS == *r.BucketStart {
			e.replayOpenBucket(src, r)
			continue
		}
		if err := e.replayAndUpsertHistorical(ctx, src, r, bucketTS); err != nil {
			return err
		}
	}
	return nil
}

// replayOpenBucket resets r's aggregator and rescans [bucket_start,
// bucket_end) from src, without finalizing (the bucket stays open).
func (e *Engine) replayOpenBucket(src *series.Series, r *rule.Rule) {
	if r.BucketStart == nil {
		return
	}
	r.Aggregator.Reset()
	lo, hi := *r.BucketStart, *r.BucketStart+r.BucketDurationMS-1
	it := src.RangeIter(lo, hi, sample.Forward)
	for it.Next() {
		at := it.At()
		r.Aggregator.Update(at.Timestamp, at.Value)
	}
}

func (e *Engine) replayAndUpsertHistorical(ctx context.Context, src *series.Series, r *rule.Rule, bucketTS int64) error {
	lo, hi := bucketTS, bucketTS+r.BucketDurationMS-1
	fresh := r.Aggregator.Clone()
	it := src.RangeIter(lo, hi, sample.Forward)
	any := false
	for it.Next() {
		at := it.At()
		fresh.Update(at.Timestamp, at.Value)
		any = true
	}
	if !any {
		return nil
	}
	value := fresh.Finalize()
	return e.writeDest(r, bucketTS, value)
}

// OnRemoveRange implements spec §4.I "On source remove_range(lo, hi)":
// fully-contained buckets drop the destination point; partially
// contained boundary buckets replay from src excluding [lo,hi]; the
// currently open bucket, if it overlaps, is reset and replayed from the
// surviving samples.
func (e *Engine) OnRemoveRange(src *series.Series, srcID uint64, lo, hi int64) error {
	for _, r := range e.Rules(srcID) {
		if r.BucketDurationMS <= 0 {
			continue
		}
		firstBucket := r.Align(lo)
		lastBucket := r.Align(hi)

		for b := firstBucket; b <= lastBucket; b += r.BucketDurationMS {
			bStart, bEnd := b, b+r.BucketDurationMS-1
			fullyContained := bStart >= lo && bEnd <= hi
			dest, ok := e.store.Get(r.DestID)
			if !ok {
				continue
			}
			if fullyContained {
				dest.RemoveRange(bStart, bStart)
				continue
			}
			if err := e.replaySurvivingBucket(src, r, dest, bStart, bEnd, lo, hi); err != nil {
				return err
			}
		}

		if r.BucketStart != nil {
			bStart, bEnd := *r.BucketStart, *r.BucketStart+r.BucketDurationMS-1
			if bEnd >= lo && bStart <= hi {
				r.Aggregator.Reset()
				it := src.RangeIter(bStart, bEnd, sample.Forward)
				any := false
				for it.Next() {
					at := it.At()
					if at.Timestamp >= lo && at.Timestamp <= hi {
						continue
					}
					r.Aggregator.Update(at.Timestamp, at.Value)
					any = true
				}
				if !any {
					// Nothing survived the deletion: clear the open
					// bucket entirely rather than leaving a stale
					// BucketStart, which would flush a spurious
					// EmptyValue on the next append (spec §8 S5).
					r.BucketStart = nil
				}
			}
		}
	}
	return nil
}

func (e *Engine) replaySurvivingBucket(src *series.Series, r *rule.Rule, dest *series.Series, bStart, bEnd, lo, hi int64) error {
	fresh := r.Aggregator.Clone()
	it := src.RangeIter(bStart, bEnd, sample.Forward)
	any := false
	for it.Next() {
		at := it.At()
		if at.Timestamp >= lo && at.Timestamp <= hi {
			continue
		}
		fresh.Update(at.Timestamp, at.Value)
		any = true
	}
	if !any {
		dest.RemoveRange(bStart, bStart)
		return nil
	}
	policy := dup.Last
	_, err := dest.Append(bStart, fresh.Finalize(), &series.AppendOptions{PolicyOverride: &policy})
	return err
}

// GCStaleRules drops any rule on srcID whose destination no longer
// exists in store (spec §4.I "Stale-rule GC").
func (e *Engine) GCStaleRules(srcID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := e.rulesBySource[srcID]
	kept := rules[:0]
	for _, r := range rules {
		if _, ok := e.store.Get(r.DestID); ok {
			kept = append(kept, r)
		}
	}
	e.rulesBySource[srcID] = kept
}
