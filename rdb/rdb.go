// Package rdb implements the two persistence hooks spec §4 "Persistence"
// requires — save_to_rdb/load_from_rdb — against the exact byte layout
// spec §6 specifies, streamed via github.com/tinylib/msgp's low-level
// Writer/Reader primitives (the same msgpack encoding the teacher's own
// go.mod pulls in for on-wire structures), with the teacher's
// atomic-temp-file-then-rename save idiom from cmn/jsp.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rdb

import (
	"io"
	"os"

	"github.com/tinylib/msgp/msgp"
	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/cmn/cos"
	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/label"
	"github.com/vktsdb/tsengine/rounding"
	"github.com/vktsdb/tsengine/rule"
	"github.com/vktsdb/tsengine/sample"
	"github.com/vktsdb/tsengine/series"
)

const (
	tagUncompressed = 1
	tagGorilla      = 2
)

// SaveSeries writes s's full byte layout (spec §6): labels, retention,
// chunk config, duplicate policy, rounding, counters, chunks, rules.
func SaveSeries(w io.Writer, s *series.Series) error {
	mw := msgp.NewWriter(w)
	if err := writeSeries(mw, s); err != nil {
		return err
	}
	return mw.Flush()
}

// SaveSeriesAtomic writes s to path via a temp-file-then-rename, matching
// the teacher's cmn/jsp.Save idiom so a crash mid-write never corrupts
// the existing file.
func SaveSeriesAtomic(path string, s *series.Series) (err error) {
	tmp := path + ".tmp." + cos.GenID()
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err = SaveSeries(f, s); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeSeries(w *msgp.Writer, s *series.Series) error {
	pairs := s.Labels.Pairs()
	if err := w.WriteInt(len(pairs)); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := w.WriteString(p.Name); err != nil {
			return err
		}
		if err := w.WriteString(p.Value); err != nil {
			return err
		}
	}

	opts := s.Options()
	retentionMS := opts.RetentionMS
	if retentionMS == 0 {
		retentionMS = -1
	}
	if err := w.WriteInt64(retentionMS); err != nil {
		return err
	}
	if err := w.WriteInt64(opts.ChunkSizeBytes); err != nil {
		return err
	}
	compressed := byte(0)
	if opts.Compressed {
		compressed = 1
	}
	if err := w.WriteByte(compressed); err != nil {
		return err
	}

	if err := writeDuplicatePolicy(w, opts.DupPolicy, opts.Tolerance); err != nil {
		return err
	}
	if err := writeRounding(w, opts.Rounding); err != nil {
		return err
	}

	if err := w.WriteUint64(s.TotalSamples); err != nil {
		return err
	}
	if err := w.WriteInt64(s.FirstTimestamp); err != nil {
		return err
	}
	if err := w.WriteInt64(s.LastSample.Timestamp); err != nil {
		return err
	}
	if err := w.WriteFloat64(s.LastSample.Value); err != nil {
		return err
	}

	// writeChunkPayload always emits exactly one logical payload holding
	// every sample, regardless of how many in-memory chunks the series
	// actually has (see its doc comment): the header count below must
	// track payloads written, not s.NumChunks(), or LoadSeries below reads
	// the rules section as further chunk payloads for any series with
	// more than one sealed chunk.
	hasPayload := s.HasData()
	payloadCount := 0
	if hasPayload {
		payloadCount = 1
	}
	if err := w.WriteInt(payloadCount); err != nil {
		return err
	}
	if hasPayload {
		it := s.RangeIter(int64(minInt64()), int64(maxInt64()), sample.Forward)
		samples, err := sample.Drain(it)
		if err != nil {
			return err
		}
		if err := writeChunkPayload(w, opts.Compressed, opts.ChunkSizeBytes, samples); err != nil {
			return err
		}
	}

	if err := w.WriteInt(len(s.Rules)); err != nil {
		return err
	}
	for _, r := range s.Rules {
		if err := writeRule(w, r); err != nil {
			return err
		}
	}
	return nil
}

// writeChunkPayload writes every sample as a single logical payload:
// spec §6 only requires the samples round-trip, not that in-memory chunk
// boundaries survive the trip, so the series' chunk_size_bytes/compression
// setting re-splits the stream identically on load via repeated Append.
func writeChunkPayload(w *msgp.Writer, compressed bool, chunkSizeBytes int64, samples []sample.Sample) error {
	tag := byte(tagUncompressed)
	if compressed {
		tag = tagGorilla
	}
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	if err := w.WriteInt(len(samples)); err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.WriteInt64(s.Timestamp); err != nil {
			return err
		}
		if err := w.WriteFloat64(s.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeDuplicatePolicy(w *msgp.Writer, p dup.Policy, tol dup.Tolerance) error {
	if err := w.WriteByte(byte(p)); err != nil {
		return err
	}
	if err := w.WriteInt64(tol.MaxTimeDelta); err != nil {
		return err
	}
	return w.WriteFloat64(tol.MaxValueDiff)
}

func writeRounding(w *msgp.Writer, r rounding.Rounding) error {
	if err := w.WriteByte(byte(r.Kind)); err != nil {
		return err
	}
	return w.WriteInt(r.Digits)
}

func writeRule(w *msgp.Writer, r *rule.Rule) error {
	if err := w.WriteUint64(r.DestID); err != nil {
		return err
	}
	if err := w.WriteByte(byte(r.Aggregator.Kind())); err != nil {
		return err
	}
	state := r.Aggregator.SaveState()
	if err := w.WriteBytes(state); err != nil {
		return err
	}
	if err := w.WriteInt64(r.BucketDurationMS); err != nil {
		return err
	}
	if err := w.WriteInt64(r.AlignTimestamp); err != nil {
		return err
	}
	bucketStart := int64(-1)
	if r.BucketStart != nil {
		bucketStart = *r.BucketStart
	}
	return w.WriteInt64(bucketStart)
}

// LoadSeries reconstructs a Series from the byte layout SaveSeries wrote.
// newAgg constructs a fresh, zeroed Aggregator for a Kind (the caller
// supplies window/threshold parameters out of band, since those aren't
// part of the persisted aggregator state per spec §6).
func LoadSeries(r io.Reader, id uint64, in *label.Interner, newAgg func(agg.Kind) (agg.Aggregator, error)) (*series.Series, error) {
	mr := msgp.NewReader(r)

	n, err := mr.ReadInt()
	if err != nil {
		return nil, err
	}
	pairs := make([]label.Pair, n)
	for i := range pairs {
		name, err := mr.ReadString()
		if err != nil {
			return nil, err
		}
		value, err := mr.ReadString()
		if err != nil {
			return nil, err
		}
		pairs[i] = label.Pair{Name: name, Value: value}
	}
	labels := label.New(in, pairs)

	retentionMS, err := mr.ReadInt64()
	if err != nil {
		return nil, err
	}
	if retentionMS < 0 {
		retentionMS = 0
	}
	chunkSizeBytes, err := mr.ReadInt64()
	if err != nil {
		return nil, err
	}
	compressedByte, err := mr.ReadByte()
	if err != nil {
		return nil, err
	}

	policy, tol, err := readDuplicatePolicy(mr)
	if err != nil {
		return nil, err
	}
	rnd, err := readRounding(mr)
	if err != nil {
		return nil, err
	}

	opts := series.Options{
		ChunkSizeBytes: chunkSizeBytes,
		Compressed:     compressedByte == 1,
		RetentionMS:    retentionMS,
		DupPolicy:      policy,
		Tolerance:      tol,
		Rounding:       rnd,
	}

	if _, err := mr.ReadUint64(); err != nil { // total_samples (recomputed on load)
		return nil, err
	}
	if _, err := mr.ReadInt64(); err != nil { // first_timestamp (recomputed)
		return nil, err
	}
	if _, err := mr.ReadInt64(); err != nil { // last_sample.timestamp (recomputed)
		return nil, err
	}
	if _, err := mr.ReadFloat64(); err != nil { // last_sample.value (recomputed)
		return nil, err
	}

	numChunks, err := mr.ReadInt()
	if err != nil {
		return nil, err
	}

	s := series.New(id, labels, opts)

	for i := 0; i < numChunks; i++ {
		samples, err := readChunkPayload(mr)
		if err != nil {
			return nil, err
		}
		for _, sm := range samples {
			if _, err := s.Append(sm.Timestamp, sm.Value, nil); err != nil {
				return nil, err
			}
		}
	}

	numRules, err := mr.ReadInt()
	if err != nil {
		return nil, err
	}
	for i := 0; i < numRules; i++ {
		r, err := readRule(mr, newAgg)
		if err != nil {
			return nil, err
		}
		s.Rules = append(s.Rules, r)
	}

	return s, nil
}

func readChunkPayload(r *msgp.Reader) ([]sample.Sample, error) {
	if _, err := r.ReadByte(); err != nil { // tag: informational only on load
		return nil, err
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	out := make([]sample.Sample, n)
	for i := range out {
		ts, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadFloat64()
		if err != nil {
			return nil, err
		}
		out[i] = sample.Sample{Timestamp: ts, Value: v}
	}
	return out, nil
}

func readDuplicatePolicy(r *msgp.Reader) (dup.Policy, dup.Tolerance, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return 0, dup.Tolerance{}, err
	}
	maxTimeDelta, err := r.ReadInt64()
	if err != nil {
		return 0, dup.Tolerance{}, err
	}
	maxValueDiff, err := r.ReadFloat64()
	if err != nil {
		return 0, dup.Tolerance{}, err
	}
	return dup.Policy(tag), dup.Tolerance{MaxTimeDelta: maxTimeDelta, MaxValueDiff: maxValueDiff}, nil
}

func readRounding(r *msgp.Reader) (rounding.Rounding, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return rounding.Rounding{}, err
	}
	digits, err := r.ReadInt()
	if err != nil {
		return rounding.Rounding{}, err
	}
	return rounding.Rounding{Kind: rounding.Kind(tag), Digits: digits}, nil
}

func readRule(r *msgp.Reader, newAgg func(agg.Kind) (agg.Aggregator, error)) (*rule.Rule, error) {
	destID, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	state, err := r.ReadBytes(nil)
	if err != nil {
		return nil, err
	}
	bucketDurationMS, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	alignTS, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	bucketStart, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}

	a, err := newAgg(agg.Kind(kindByte))
	if err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := a.LoadState(state); err != nil {
			return nil, err
		}
	}

	ru := rule.New("", destID, a, bucketDurationMS, alignTS)
	if bucketStart >= 0 {
		ru.BucketStart = &bucketStart
	}
	return ru, nil
}

func minInt64() int64 { return -1 << 63 }
func maxInt64() int64 { return 1<<63 - 1 }
