// Package series implements the per-series storage container (component
// C): a chunk chain with retention, sample-duplicate, and rounding
// policy, supporting append, backfill upsert, range scan, and
// retention-driven eviction (spec §3 "Series", §4.C).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package series

import (
	"sort"

	"github.com/vktsdb/tsengine/chunk"
	"github.com/vktsdb/tsengine/cmn/cerr"
	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/label"
	"github.com/vktsdb/tsengine/rounding"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
)

// Options configures a Series at creation time (spec §3 "Essential
// attributes").
type Options struct {
	ChunkSizeBytes int64
	Compressed     bool // true: Gorilla, false: Uncompressed
	RetentionMS    int64
	DupPolicy      dup.Policy
	Tolerance      dup.Tolerance
	Rounding       rounding.Rounding
}

func DefaultOptions() Options {
	return Options{
		ChunkSizeBytes: 4096,
		Compressed:     true,
		DupPolicy:      dup.Block,
	}
}

// Series is a named, labeled append-optimized sequence of samples.
type Series struct {
	ID     uint64
	Labels label.Labels

	opts Options

	chunks       []chunk.Chunk
	chunkFirstTS []int64 // parallel to chunks, supplements O(n) chunk search (original_source)

	Rules       []*rule.Rule
	SrcSeriesID *uint64 // non-nil iff this series is a compaction destination

	TotalSamples   uint64
	FirstTimestamp int64
	LastSample     sample.Sample
	hasData        bool
}

func New(id uint64, labels label.Labels, opts Options) *Series {
	s := &Series{ID: id, Labels: labels, opts: opts}
	s.pushChunk(s.newChunk())
	return s
}

func (s *Series) Options() Options { return s.opts }

// SetOptions implements the supplemented TS.ALTER operation (SPEC_FULL
// §12.1): updates retention/chunk-size/duplicate-policy/rounding without
// recreating the series or discarding any stored chunk.
func (s *Series) SetOptions(o Options) {
	s.opts.RetentionMS = o.RetentionMS
	s.opts.DupPolicy = o.DupPolicy
	s.opts.Tolerance = o.Tolerance
	s.opts.Rounding = o.Rounding
	s.opts.ChunkSizeBytes = o.ChunkSizeBytes
	// Compression is intentionally not mutable in place: changing codec
	// would require re-encoding every existing chunk; callers that need a
	// codec change should compact into a new destination series instead.
}

func (s *Series) newChunk() chunk.Chunk {
	if s.opts.Compressed {
		return chunk.NewGorilla(s.opts.ChunkSizeBytes)
	}
	return chunk.NewUncompressed(s.opts.ChunkSizeBytes)
}

func (s *Series) pushChunk(c chunk.Chunk) {
	s.chunks = append(s.chunks, c)
	s.chunkFirstTS = append(s.chunkFirstTS, c.FirstTimestamp())
}

func (s *Series) activeChunk() chunk.Chunk { return s.chunks[len(s.chunks)-1] }

func (s *Series) NumChunks() int { return len(s.chunks) }

// AppendOptions lets a single call override the series-level duplicate
// policy/tolerance (spec §4.C "policy_override"; supplemented per-call
// tolerance override, SPEC_FULL §12.3).
type AppendOptions struct {
	PolicyOverride *dup.Policy
	ToleranceOverride *dup.Tolerance
}

func (s *Series) policyFor(o *AppendOptions) dup.Policy {
	if o != nil && o.PolicyOverride != nil {
		return *o.PolicyOverride
	}
	return s.opts.DupPolicy
}

func (s *Series) toleranceFor(o *AppendOptions) dup.Tolerance {
	if o != nil && o.ToleranceOverride != nil {
		return *o.ToleranceOverride
	}
	return s.opts.Tolerance
}

// Append implements spec §4.C "append". It never partially mutates
// series state on error: last_sample/total_samples are only updated once
// the underlying chunk mutation has fully succeeded.
func (s *Series) Append(ts int64, value float64, opts *AppendOptions) (sample.Sample, error) {
	value = s.opts.Rounding.Apply(value)

	if s.hasData && s.opts.RetentionMS > 0 && ts < s.LastSample.Timestamp-s.opts.RetentionMS {
		return sample.Sample{}, cerr.New(cerr.TooOld, "series.Append", "sample older than retention window")
	}

	if s.hasData {
		tol := s.toleranceFor(opts)
		if tol.WithinWindow(ts, value, s.LastSample.Timestamp, s.LastSample.Value) {
			policy := s.policyFor(opts)
			resolved, ok := dup.Resolve(policy, s.LastSample.Value, value)
			if !ok {
				return sample.Sample{}, cerr.New(cerr.DuplicateBlocked, "series.Append", "duplicate sample blocked by policy")
			}
			stored := sample.Sample{Timestamp: ts, Value: resolved}
			if _, _, err := s.activeChunk().Upsert(stored, dup.Last); err != nil {
				return sample.Sample{}, cerr.Wrap(cerr.InternalError, "series.Append", "upsert into active chunk", err)
			}
			s.setLast(stored)
			return stored, nil
		}
	}

	stored := sample.Sample{Timestamp: ts, Value: value}
	if !s.hasData || ts > s.LastSample.Timestamp {
		if err := s.appendForward(stored); err != nil {
			return sample.Sample{}, err
		}
		s.TotalSamples++
		s.setLast(stored)
		s.retentionSweep()
		return stored, nil
	}

	// backfill
	result, err := s.upsertInternal(stored, s.policyFor(opts))
	if err != nil {
		return sample.Sample{}, err
	}
	return result, nil
}

func (s *Series) appendForward(stored sample.Sample) error {
	if err := s.activeChunk().Append(stored); err != nil {
		if err == chunk.ErrChunkFull {
			s.pushChunk(s.newChunk())
			if err2 := s.activeChunk().Append(stored); err2 != nil {
				return cerr.Wrap(cerr.InternalError, "series.appendForward", "append to fresh chunk", err2)
			}
			return nil
		}
		return cerr.Wrap(cerr.InvalidTimestamp, "series.appendForward", "chunk append failed", err)
	}
	return nil
}

func (s *Series) setLast(stored sample.Sample) {
	if !s.hasData {
		s.FirstTimestamp = stored.Timestamp
		s.hasData = true
	}
	if stored.Timestamp > s.LastSample.Timestamp || !s.hasData {
		s.LastSample = stored
	} else if stored.Timestamp == s.LastSample.Timestamp {
		s.LastSample = stored
	}
}

// chunkIndexFor returns the index of the chunk that should contain ts:
// the last chunk whose FirstTimestamp <= ts, or 0 if ts precedes every
// chunk, or the last chunk if ts is beyond all existing data.
func (s *Series) chunkIndexFor(ts int64) int {
	i := sort.Search(len(s.chunkFirstTS), func(i int) bool { return s.chunkFirstTS[i] > ts })
	if i == 0 {
		return 0
	}
	return i - 1
}

func (s *Series) upsertInternal(stored sample.Sample, policy dup.Policy) (sample.Sample, error) {
	idx := s.chunkIndexFor(stored.Timestamp)
	c := s.chunks[idx]
	result, ok, err := c.Upsert(stored, policy)
	if err == chunk.ErrChunkFull {
		s.splitChunk(idx)
		idx = s.chunkIndexFor(stored.Timestamp)
		result, ok, err = s.chunks[idx].Upsert(stored, policy)
	}
	if err != nil {
		return sample.Sample{}, cerr.Wrap(cerr.InternalError, "series.upsertInternal", "chunk upsert failed", err)
	}
	if !ok {
		return sample.Sample{}, cerr.New(cerr.DuplicateBlocked, "series.upsertInternal", "duplicate sample blocked by policy")
	}
	s.TotalSamples++
	if stored.Timestamp >= s.FirstTimestamp {
		// no change
	} else {
		s.FirstTimestamp = stored.Timestamp
	}
	if stored.Timestamp == s.LastSample.Timestamp || (idx == len(s.chunks)-1 && stored.Timestamp >= s.LastSample.Timestamp) {
		s.LastSample = result
	}
	return result, nil
}

// splitChunk splits the chunk at idx at its median timestamp, spec §4.C
// "If the target chunk overflows, split it at the median timestamp."
func (s *Series) splitChunk(idx int) {
	c := s.chunks[idx]
	n := c.Len()
	if n == 0 {
		return
	}
	mid := medianTimestamp(c)
	left, right := c.SplitAt(mid)
	newChunks := make([]chunk.Chunk, 0, len(s.chunks)+1)
	newChunks = append(newChunks, s.chunks[:idx]...)
	newChunks = append(newChunks, left, right)
	newChunks = append(newChunks, s.chunks[idx+1:]...)
	s.chunks = newChunks
	s.rebuildChunkIndex()
}

func medianTimestamp(c chunk.Chunk) int64 {
	it := c.RangeIter(c.FirstTimestamp(), c.LastTimestamp())
	samples, _ := sample.Drain(it)
	if len(samples) == 0 {
		return c.FirstTimestamp()
	}
	return samples[len(samples)/2].Timestamp
}

func (s *Series) rebuildChunkIndex() {
	s.chunkFirstTS = s.chunkFirstTS[:0]
	for _, c := range s.chunks {
		s.chunkFirstTS = append(s.chunkFirstTS, c.FirstTimestamp())
	}
}

// RangeIter implements spec §4.C "range_iter": binary search for the
// first chunk whose last_timestamp >= lo, yield until timestamp > hi.
// Reverse direction walks chunks in reverse, buffering one chunk at a
// time to expose a forward cursor while the outer iteration is reversed.
func (s *Series) RangeIter(lo, hi int64, dir sample.Direction) sample.Iterator {
	startIdx := sort.Search(len(s.chunks), func(i int) bool { return s.chunks[i].LastTimestamp() >= lo })
	if dir == sample.Forward {
		return &multiChunkIterator{chunks: s.chunks, idx: startIdx, lo: lo, hi: hi}
	}
	endIdx := len(s.chunks) - 1
	for endIdx >= 0 && s.chunks[endIdx].FirstTimestamp() > hi {
		endIdx--
	}
	return &reverseChunkIterator{chunks: s.chunks, idx: endIdx, minIdx: startIdx, lo: lo, hi: hi}
}

type multiChunkIterator struct {
	chunks []chunk.Chunk
	idx    int
	lo, hi int64
	cur    sample.Iterator
	at     sample.Sample
}

func (it *multiChunkIterator) Next() bool {
	for {
		if it.cur == nil {
			if it.idx >= len(it.chunks) {
				return false
			}
			if it.chunks[it.idx].FirstTimestamp() > it.hi {
				return false
			}
			it.cur = it.chunks[it.idx].RangeIter(it.lo, it.hi)
			it.idx++
		}
		if it.cur.Next() {
			it.at = it.cur.At()
			return true
		}
		it.cur = nil
	}
}

func (it *multiChunkIterator) At() sample.Sample { return it.at }
func (it *multiChunkIterator) Err() error        { return nil }

type reverseChunkIterator struct {
	chunks       []chunk.Chunk
	idx, minIdx  int
	lo, hi       int64
	buf          []sample.Sample
	bufIdx       int
	at           sample.Sample
}

func (it *reverseChunkIterator) Next() bool {
	for {
		if it.bufIdx < len(it.buf) {
			it.at = it.buf[it.bufIdx]
			it.bufIdx++
			return true
		}
		if it.idx < it.minIdx || it.idx < 0 {
			return false
		}
		it.buf, _ = sample.Drain(it.chunks[it.idx].RangeIter(it.lo, it.hi))
		reverseSamples(it.buf)
		it.bufIdx = 0
		it.idx--
	}
}

func (it *reverseChunkIterator) At() sample.Sample { return it.at }
func (it *reverseChunkIterator) Err() error        { return nil }

func reverseSamples(s []sample.Sample) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// RemoveRange implements spec §4.C "remove_range": drop whole chunks
// fully inside [lo,hi], delegate partial overlaps to the chunk's own
// RemoveRange. lo > hi is a no-op returning 0.
func (s *Series) RemoveRange(lo, hi int64) int {
	if lo > hi {
		return 0
	}
	removed := 0
	newChunks := s.chunks[:0:0]
	for _, c := range s.chunks {
		switch {
		case c.LastTimestamp() < lo || c.FirstTimestamp() > hi:
			newChunks = append(newChunks, c)
		case c.FirstTimestamp() >= lo && c.LastTimestamp() <= hi:
			removed += c.Len()
		default:
			removed += c.RemoveRange(lo, hi)
			if c.Len() > 0 {
				newChunks = append(newChunks, c)
			}
		}
	}
	if len(newChunks) == 0 {
		newChunks = append(newChunks, s.newChunk())
	}
	s.chunks = newChunks
	s.rebuildChunkIndex()
	s.recomputeCounters()
	return removed
}

func (s *Series) recomputeCounters() {
	total := uint64(0)
	for _, c := range s.chunks {
		total += uint64(c.Len())
	}
	s.TotalSamples = total
	if total == 0 {
		s.hasData = false
		s.LastSample = sample.Sample{}
		s.FirstTimestamp = 0
		return
	}
	s.hasData = true
	s.FirstTimestamp = s.chunks[0].FirstTimestamp()
	last := s.chunks[len(s.chunks)-1]
	it := last.RangeIter(last.FirstTimestamp(), last.LastTimestamp())
	var lastSample sample.Sample
	for it.Next() {
		lastSample = it.At()
	}
	s.LastSample = lastSample
}

// retentionSweep implements spec §4.C: while the first chunk's
// last_timestamp < last_sample.timestamp - retention, drop it. Never
// drops the active (last) chunk.
func (s *Series) retentionSweep() {
	if s.opts.RetentionMS <= 0 {
		return
	}
	cutoff := s.LastSample.Timestamp - s.opts.RetentionMS
	for len(s.chunks) > 1 && s.chunks[0].LastTimestamp() < cutoff {
		dropped := s.chunks[0].Len()
		s.chunks = s.chunks[1:]
		s.chunkFirstTS = s.chunkFirstTS[1:]
		s.TotalSamples -= uint64(dropped)
	}
	if len(s.chunks) > 0 {
		s.FirstTimestamp = s.chunks[0].FirstTimestamp()
	}
}

func (s *Series) HasData() bool { return s.hasData }
