// Package engine provides the top-level façade (spec §6 "External
// interfaces"): one method per command, taking and returning typed Go
// values. Argument parsing from a wire protocol is explicitly out of
// scope (spec §1 Non-goals); that is the host's job.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/bucket"
	"github.com/vktsdb/tsengine/cmn"
	"github.com/vktsdb/tsengine/cmn/cerr"
	"github.com/vktsdb/tsengine/cmn/cos"
	"github.com/vktsdb/tsengine/compact"
	"github.com/vktsdb/tsengine/index"
	"github.com/vktsdb/tsengine/label"
	"github.com/vktsdb/tsengine/rangeiter"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
	"github.com/vktsdb/tsengine/stats"
)

// Engine is the storage core: series storage, label interning, posting
// index, compaction, and config, all wired together. It is not
// responsible for wire-protocol parsing, cluster transport, or ACL
// checks (the host's job, per spec §1).
type Engine struct {
	mu sync.RWMutex

	series    map[uint64]*series.Series
	byKey     map[string]uint64
	nextID    uint64
	interner  *label.Interner
	idx       *index.Index
	compactor *compact.Engine
	stats     *stats.Registry
}

func New() *Engine {
	e := &Engine{
		series:   make(map[uint64]*series.Series),
		byKey:    make(map[string]uint64),
		interner: label.NewInterner(),
		idx:      index.New(),
		stats:    stats.New(),
	}
	e.compactor = compact.New(seriesStoreAdapter{e})
	return e
}

// seriesStoreAdapter satisfies compact.SeriesStore without exposing
// Engine's full surface to the compaction engine.
type seriesStoreAdapter struct{ e *Engine }

func (a seriesStoreAdapter) Get(id uint64) (*series.Series, bool) {
	a.e.mu.RLock()
	defer a.e.mu.RUnlock()
	s, ok := a.e.series[id]
	return s, ok
}

// CreateOptions bundles TS.CREATE's parameters.
type CreateOptions struct {
	Labels   []label.Pair
	Series   series.Options
}

// Create implements TS.CREATE. Also applies compaction_policy_config
// auto-creation (SPEC_FULL/spec §6 "Compaction policy on new-series
// create"): for every configured policy whose regex matches key (or is
// unfiltered), a destination series is auto-created and a rule
// registered.
func (e *Engine) Create(key string, opts CreateOptions, cfg *cmn.Config) (uint64, error) {
	e.mu.Lock()
	if _, exists := e.byKey[key]; exists {
		e.mu.Unlock()
		return 0, cerr.New(cerr.AlreadyExists, "engine.Create", "key already exists: "+key)
	}
	e.nextID++
	id := e.nextID
	labels := label.New(e.interner, append(append([]label.Pair(nil), opts.Labels...), label.Pair{Name: label.NameLabel, Value: key}))
	s := series.New(id, labels, opts.Series)
	e.series[id] = s
	e.byKey[key] = id
	e.mu.Unlock()

	e.idx.Add(id, key, toIndexPairs(labels))
	e.stats.Inc(stats.SeriesGauge)

	if cfg != nil {
		if err := e.applyCompactionPolicies(key, id, cfg); err != nil {
			glog.Errorf("engine.Create: compaction policy setup failed for %q: %v", key, err)
			return id, err
		}
	}
	if glog.V(3) {
		glog.Infof("series created: key=%q id=%d", key, id)
	}
	return id, nil
}

func toIndexPairs(l label.Labels) []index.Pair {
	pairs := l.Pairs()
	out := make([]index.Pair, len(pairs))
	for i, p := range pairs {
		out[i] = index.Pair{Name: p.Name, Value: p.Value}
	}
	return out
}

// applyCompactionPolicies parses cfg.Compaction.PolicyConfig ("agg:bucket:retention[:align]|regex_filter"
// entries separated by ';') and, for every entry whose regex matches key
// (or carries no filter), auto-creates a destination series named
// key_AGG_bucketms[_align] and registers the rule.
func (e *Engine) applyCompactionPolicies(key string, srcID uint64, cfg *cmn.Config) error {
	policies, err := parseCompactionPolicies(cfg.Compaction.PolicyConfig)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if p.filter != "" {
			re, err := regexp.Compile(p.filter)
			if err != nil {
				return cerr.Wrap(cerr.InvalidArgument, "engine.applyCompactionPolicies", "bad filter regex", err)
			}
			if !re.MatchString(key) {
				continue
			}
		}
		destKey := fmt.Sprintf("%s_%s_%dms", key, p.aggKind.String(), p.bucketMS)
		if p.align != 0 {
			destKey = fmt.Sprintf("%s_%d", destKey, p.align)
		}
		destOpts := series.DefaultOptions()
		destOpts.RetentionMS = p.retentionMS
		destID, err := e.Create(destKey, CreateOptions{Series: destOpts}, nil)
		if err != nil {
			return err
		}
		a, err := agg.New(p.aggKind, agg.Params{WindowMS: p.bucketMS})
		if err != nil {
			return err
		}
		r := rule.New(cos.GenID(), destID, a, p.bucketMS, p.align)
		if err := e.compactor.AddRule(srcID, r); err != nil {
			return err
		}
		e.mu.Lock()
		if s, ok := e.series[srcID]; ok {
			s.Rules = append(s.Rules, r)
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) resolve(key string) (uint64, *series.Series, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.byKey[key]
	if !ok {
		return 0, nil, false
	}
	return id, e.series[id], true
}

// Add implements TS.ADD. A sample landing at or before the series'
// current last timestamp is a backfill/upsert (spec §4.C "backfill"):
// compaction propagation takes the OnUpsert path, replaying the affected
// bucket, rather than OnAppend's forward-flush path (spec §4.I "On
// source upsert(sample)").
func (e *Engine) Add(key string, ts int64, value float64, opts *series.AppendOptions) (sample.Sample, error) {
	id, s, ok := e.resolve(key)
	if !ok {
		return sample.Sample{}, cerr.New(cerr.NotFound, "engine.Add", "no such key: "+key)
	}
	backfill := s.HasData() && ts <= s.LastSample.Timestamp
	stored, err := s.Append(ts, value, opts)
	if err != nil {
		if cerr.Is(err, cerr.DuplicateBlocked) {
			e.stats.Inc(stats.DuplicateBlocked)
		}
		return sample.Sample{}, err
	}
	e.stats.Inc(stats.AppendCount)
	if backfill {
		_ = e.compactor.OnUpsert(context.Background(), s, id, stored)
	} else {
		_ = e.compactor.OnAppend(context.Background(), id, stored)
	}
	return stored, nil
}

// MAddItem is one entry of a TS.MADD batch.
type MAddItem struct {
	Key       string
	Timestamp int64
	Value     float64
}

// MAddResult is the per-item outcome; per spec §7 "per-sample errors
// inside MADD do not abort the batch".
type MAddResult struct {
	Sample sample.Sample
	Err    error
}

// MAdd implements TS.MADD: applies each item's sub-batch to its series in
// input order, per spec §5 "the per-series sub-batch is applied in input
// order; the result vector preserves input order regardless of internal
// grouping".
func (e *Engine) MAdd(items []MAddItem) []MAddResult {
	results := make([]MAddResult, len(items))
	for i, it := range items {
		s, err := e.Add(it.Key, it.Timestamp, it.Value, nil)
		results[i] = MAddResult{Sample: s, Err: err}
	}
	return results
}

// IncrBy implements TS.INCRBY/DECRBY: adds delta to the last stored
// value (0 if none) at ts (or the caller-supplied "now").
func (e *Engine) IncrBy(key string, delta float64, ts int64) (sample.Sample, error) {
	_, s, ok := e.resolve(key)
	if !ok {
		return sample.Sample{}, cerr.New(cerr.NotFound, "engine.IncrBy", "no such key: "+key)
	}
	base := 0.0
	if s.HasData() {
		base = s.LastSample.Value
	}
	return e.Add(key, ts, base+delta, nil)
}

// Get implements TS.GET. latest=true synthesizes the destination's
// in-flight rule bucket when present and the stored data is otherwise
// exhausted (spec §4.F "Latest-sample injection").
func (e *Engine) Get(key string, latest bool) (sample.Sample, bool) {
	id, s, ok := e.resolve(key)
	if !ok || !s.HasData() {
		return sample.Sample{}, false
	}
	if !latest || s.SrcSeriesID == nil {
		return s.LastSample, true
	}
	rules := e.compactor.Rules(*s.SrcSeriesID)
	for _, r := range rules {
		if r.DestID == id && r.BucketStart != nil {
			if v, ok := r.Aggregator.Current(); ok {
				virtual := sample.Sample{Timestamp: *r.BucketStart, Value: v}
				if virtual.Timestamp >= s.LastSample.Timestamp {
					return virtual, true
				}
			}
		}
	}
	return s.LastSample, true
}

// Del implements TS.DEL: range delete, propagated through compaction.
func (e *Engine) Del(key string, from, to int64) (int, error) {
	id, s, ok := e.resolve(key)
	if !ok {
		return 0, cerr.New(cerr.NotFound, "engine.Del", "no such key: "+key)
	}
	if from > to {
		return 0, nil
	}
	if err := e.compactor.OnRemoveRange(s, id, from, to); err != nil {
		return 0, err
	}
	n := s.RemoveRange(from, to)
	e.stats.Add(stats.RetentionEvict, float64(n))
	return n, nil
}

// RangeOptions bundles TS.RANGE/REVRANGE's options (spec §6 "Range
// options (enumerated)").
type RangeOptions struct {
	From, To        int64
	Direction       sample.Direction
	ValueMin, ValueMax *float64
	Timestamps      []int64
	Count           int
	Bucket          *BucketOptions
	GroupReduce     *GroupReduceOptions
}

// BucketOptions bundles the AGGREGATION clause.
type BucketOptions struct {
	Kind             agg.Kind
	BucketDurationMS int64
	Alignment        bucket.Alignment
	TimestampOutput  bucket.TimestampOutput
	ReportEmpty      bool
	Params           agg.Params
}

// GroupReduceOptions bundles the GROUP-BY-REDUCE clause (spec §4.F
// step 5): runs of samples sharing the same output timestamp are folded
// through a fresh Kind aggregator per run. Distinct from Bucket, which
// folds by time window rather than by exact timestamp collision (e.g.
// after several series have been interleaved onto a shared timestamp
// grid upstream of Range).
type GroupReduceOptions struct {
	Kind   agg.Kind
	Params agg.Params
}

// Range implements TS.RANGE/REVRANGE, composing the full iterator stack
// of spec §4.F.
func (e *Engine) Range(key string, opts RangeOptions) ([]sample.Sample, error) {
	_, s, ok := e.resolve(key)
	if !ok {
		return nil, cerr.New(cerr.NotFound, "engine.Range", "no such key: "+key)
	}

	var it sample.Iterator
	if len(opts.Timestamps) > 0 {
		it = rangeiter.WithTimestampFilter(s.RangeIter(opts.From, opts.To, sample.Forward), opts.Timestamps)
	} else {
		it = s.RangeIter(opts.From, opts.To, sample.Forward)
	}

	if opts.ValueMin != nil && opts.ValueMax != nil {
		it = rangeiter.WithValueFilter(it, *opts.ValueMin, *opts.ValueMax)
	}

	if opts.Bucket != nil {
		a, err := agg.New(opts.Bucket.Kind, opts.Bucket.Params)
		if err != nil {
			return nil, cerr.Wrap(cerr.InvalidAggregation, "engine.Range", "bad aggregation kind", err)
		}
		cfg := bucket.Config{
			BucketDurationMS: opts.Bucket.BucketDurationMS,
			Alignment:        opts.Bucket.Alignment,
			TimestampOutput:  opts.Bucket.TimestampOutput,
			ReportEmpty:      opts.Bucket.ReportEmpty,
			RangeStart:       opts.From,
			RangeEnd:         opts.To,
		}
		it = rangeiter.WithBucketAggregation(it, cfg, a)
	}

	if opts.GroupReduce != nil {
		kind, params := opts.GroupReduce.Kind, opts.GroupReduce.Params
		if _, err := agg.New(kind, params); err != nil {
			return nil, cerr.Wrap(cerr.InvalidAggregation, "engine.Range", "bad group-reduce kind", err)
		}
		it = rangeiter.WithReduce(it, func() agg.Aggregator {
			a, _ := agg.New(kind, params)
			return a
		})
	}

	if opts.Direction == sample.Reverse {
		it = rangeiter.WithReverse(it)
	}
	it = rangeiter.WithLimit(it, opts.Count)

	return sample.Drain(it)
}

// CreateRule implements TS.CREATERULE.
func (e *Engine) CreateRule(srcKey, destKey string, kind agg.Kind, bucketDurationMS, alignTimestamp int64, params agg.Params) error {
	srcID, _, ok := e.resolve(srcKey)
	if !ok {
		return cerr.New(cerr.NotFound, "engine.CreateRule", "no such source key: "+srcKey)
	}
	destID, dest, ok := e.resolve(destKey)
	if !ok {
		return cerr.New(cerr.NotFound, "engine.CreateRule", "no such destination key: "+destKey)
	}
	a, err := agg.New(kind, params)
	if err != nil {
		return err
	}
	r := rule.New(cos.GenID(), destID, a, bucketDurationMS, alignTimestamp)
	if err := e.compactor.AddRule(srcID, r); err != nil {
		return err
	}
	e.mu.Lock()
	if s, ok := e.series[srcID]; ok {
		s.Rules = append(s.Rules, r)
	}
	dest.SrcSeriesID = &srcID
	e.mu.Unlock()
	return nil
}

// DeleteRule implements TS.DELETERULE.
func (e *Engine) DeleteRule(srcKey, destKey string) error {
	srcID, _, ok := e.resolve(srcKey)
	if !ok {
		return cerr.New(cerr.NotFound, "engine.DeleteRule", "no such source key: "+srcKey)
	}
	destID, _, ok := e.resolve(destKey)
	if !ok {
		return cerr.New(cerr.NotFound, "engine.DeleteRule", "no such destination key: "+destKey)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.series[srcID]
	for i, r := range s.Rules {
		if r.DestID == destID {
			s.Rules = append(s.Rules[:i], s.Rules[i+1:]...)
			e.compactor.DeleteRule(srcID, r.ID)
			if d, ok := e.series[destID]; ok {
				d.SrcSeriesID = nil
			}
			return nil
		}
	}
	return cerr.New(cerr.NotFound, "engine.DeleteRule", "no such rule")
}

// QueryIndex implements TS.QUERYINDEX: selector -> key list.
func (e *Engine) QueryIndex(sel index.Selector) []string {
	bm := e.idx.Eval(sel)
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if k, ok := e.idx.Key(id); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LabelNames implements TS.LABELNAMES: label names across every series
// matching sel, deduplicated and sorted (spec §5 "set-like" merge).
func (e *Engine) LabelNames(sel index.Selector) []string {
	bm := e.idx.Eval(sel)
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := make(map[string]struct{})
	it := bm.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if s, ok := e.series[id]; ok {
			for _, h := range s.Labels {
				set[h.Name] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// LabelValues implements TS.LABELVALUES for a given label name.
func (e *Engine) LabelValues(name string, sel index.Selector) []string {
	bm := e.idx.Eval(sel)
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := make(map[string]struct{})
	it := bm.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if s, ok := e.series[id]; ok {
			if v, ok := s.Labels.Get(name); ok {
				set[v] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// keysForSelector resolves sel to the sorted list of series keys it
// matches, via the posting index (spec §4.H); used by the multi-series
// commands below to fan out locally before any cluster-level Dispatch.
func (e *Engine) keysForSelector(sel index.Selector) []string {
	bm := e.idx.Eval(sel)
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := uint64(it.Next())
		if k, ok := e.idx.Key(id); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// MGetResult is one series' entry in a TS.MGET reply.
type MGetResult struct {
	Key    string
	Sample sample.Sample
	Found  bool
}

// MGet implements TS.MGET: the last sample of every series matching sel,
// resolved locally (spec §6 "Selector-scoped commands ... single-node
// execution resolves locally via §4.H"). The cluster-scoped path
// dispatches this same per-shard call through fanout.Coordinator and
// merges replies with fanout.NewConcatLimitMerger (spec §5 "concat+limit
// (mget, mrange)").
func (e *Engine) MGet(sel index.Selector) []MGetResult {
	keys := e.keysForSelector(sel)
	out := make([]MGetResult, len(keys))
	for i, key := range keys {
		s, ok := e.Get(key, false)
		out[i] = MGetResult{Key: key, Sample: s, Found: ok}
	}
	return out
}

// MRangeResult is one series' entry in a TS.MRANGE/MREVRANGE reply.
type MRangeResult struct {
	Key     string
	Samples []sample.Sample
	Err     error
}

// MRange implements TS.MRANGE/MREVRANGE: opts applied independently to
// every series matching sel, resolved locally (same selector-scoped
// local-resolution rule as MGet). A per-series error (e.g. a concurrent
// delete) is carried in that entry's Err rather than aborting the batch,
// matching MAdd's per-item error contract (spec §7).
func (e *Engine) MRange(sel index.Selector, opts RangeOptions) []MRangeResult {
	keys := e.keysForSelector(sel)
	out := make([]MRangeResult, len(keys))
	for i, key := range keys {
		samples, err := e.Range(key, opts)
		out[i] = MRangeResult{Key: key, Samples: samples, Err: err}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Cardinality implements TS.CARD.
func (e *Engine) Cardinality(sel index.Selector) uint64 {
	return e.idx.Eval(sel).GetCardinality()
}

// Info implements TS.INFO.
type Info struct {
	TotalSamples   uint64
	FirstTimestamp int64
	LastSample     sample.Sample
	NumChunks      int
	NumRules       int
	IsDestination  bool
}

func (e *Engine) Info(key string) (Info, error) {
	_, s, ok := e.resolve(key)
	if !ok {
		return Info{}, cerr.New(cerr.NotFound, "engine.Info", "no such key: "+key)
	}
	return Info{
		TotalSamples:   s.TotalSamples,
		FirstTimestamp: s.FirstTimestamp,
		LastSample:     s.LastSample,
		NumChunks:      s.NumChunks(),
		NumRules:       len(s.Rules),
		IsDestination:  s.SrcSeriesID != nil,
	}, nil
}

// Alter implements the supplemented TS.ALTER (SPEC_FULL §12.1).
func (e *Engine) Alter(key string, opts series.Options) error {
	_, s, ok := e.resolve(key)
	if !ok {
		return cerr.New(cerr.NotFound, "engine.Alter", "no such key: "+key)
	}
	s.SetOptions(opts)
	return nil
}

func (e *Engine) Stats() *stats.Registry { return e.stats }
