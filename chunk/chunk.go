// Package chunk implements the append-optimized chunk codecs (component
// B): Uncompressed columnar storage and a Gorilla-style delta+XOR codec.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package chunk

import (
	"github.com/vktsdb/tsengine/cmn/cerr"
	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/sample"
)

// Chunk is an opaque container of samples. Two variants implement it:
// Uncompressed and Gorilla (spec §3 "Chunk", §4.B).
type Chunk interface {
	FirstTimestamp() int64
	LastTimestamp() int64
	Len() int
	SizeBytes() int64
	IsFull() bool

	// Append adds a sample with a timestamp strictly greater than
	// LastTimestamp. Returns ErrChunkFull (caller seals and allocates a
	// new chunk) without mutating the chunk.
	Append(s sample.Sample) error

	// Upsert inserts or overwrites a sample at an arbitrary timestamp,
	// resolving an exact-timestamp collision via policy. Returns the
	// stored sample. ErrChunkFull signals the caller must Split first.
	Upsert(s sample.Sample, policy dup.Policy) (sample.Sample, bool, error)

	// RangeIter yields samples with lo <= timestamp <= hi, ascending.
	RangeIter(lo, hi int64) sample.Iterator

	// SplitAt partitions the chunk at the first index whose timestamp
	// >= ts: samples < ts stay in the receiver (mutated in place and
	// returned as left), samples >= ts move to the returned right chunk.
	SplitAt(ts int64) (left, right Chunk)

	// RemoveRange deletes every sample with lo <= timestamp <= hi,
	// returning the count removed.
	RemoveRange(lo, hi int64) int

	// Compressed reports the codec variant, for persistence tagging.
	Compressed() bool
}

// Errors returned by Chunk implementations.
var (
	ErrChunkFull   = cerr.New(cerr.OutOfMemory, "chunk", "chunk is full")
	ErrSampleTooOld = cerr.New(cerr.TooOld, "chunk", "sample older than chunk start")
)

// EstimatedSampleBytes is the per-sample footprint the uncompressed
// codec's SizeBytes charges for capacity accounting (ts int64 + val
// float64). The Gorilla codec's SizeBytes reports its encoded byte length
// instead.
const EstimatedSampleBytes = 16
