package chunk

import (
	"sort"

	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/sample"
)

// Uncompressed is a pair of parallel arrays, O(log n) binary search for
// upsert/range, O(1) amortized append. Spec §4.B.
type Uncompressed struct {
	ts          []int64
	val         []float64
	maxSizeBytes int64
}

var _ Chunk = (*Uncompressed)(nil)

func NewUncompressed(maxSizeBytes int64) *Uncompressed {
	return &Uncompressed{maxSizeBytes: maxSizeBytes}
}

func (c *Uncompressed) FirstTimestamp() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[0]
}

func (c *Uncompressed) LastTimestamp() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[len(c.ts)-1]
}

func (c *Uncompressed) Len() int { return len(c.ts) }

func (c *Uncompressed) SizeBytes() int64 {
	return int64(len(c.ts)) * EstimatedSampleBytes
}

func (c *Uncompressed) IsFull() bool { return c.SizeBytes() >= c.maxSizeBytes }

func (c *Uncompressed) Compressed() bool { return false }

func (c *Uncompressed) Append(s sample.Sample) error {
	if c.IsFull() {
		return ErrChunkFull
	}
	if len(c.ts) > 0 && s.Timestamp <= c.ts[len(c.ts)-1] {
		return ErrSampleTooOld
	}
	c.ts = append(c.ts, s.Timestamp)
	c.val = append(c.val, s.Value)
	return nil
}

// search returns the index of the first element with ts[i] >= target.
func (c *Uncompressed) search(target int64) int {
	return sort.Search(len(c.ts), func(i int) bool { return c.ts[i] >= target })
}

func (c *Uncompressed) Upsert(s sample.Sample, policy dup.Policy) (sample.Sample, bool, error) {
	i := c.search(s.Timestamp)
	if i < len(c.ts) && c.ts[i] == s.Timestamp {
		resolved, ok := dup.Resolve(policy, c.val[i], s.Value)
		if !ok {
			return sample.Sample{}, false, nil
		}
		c.val[i] = resolved
		return sample.Sample{Timestamp: s.Timestamp, Value: resolved}, true, nil
	}
	if c.IsFull() {
		return sample.Sample{}, false, ErrChunkFull
	}
	// insert maintaining order
	c.ts = append(c.ts, 0)
	c.val = append(c.val, 0)
	copy(c.ts[i+1:], c.ts[i:])
	copy(c.val[i+1:], c.val[i:])
	c.ts[i] = s.Timestamp
	c.val[i] = s.Value
	return s, true, nil
}

func (c *Uncompressed) RangeIter(lo, hi int64) sample.Iterator {
	start := c.search(lo)
	end := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] > hi })
	out := make([]sample.Sample, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, sample.Sample{Timestamp: c.ts[i], Value: c.val[i]})
	}
	return sample.NewSliceIterator(out)
}

func (c *Uncompressed) SplitAt(ts int64) (left, right Chunk) {
	i := c.search(ts)
	r := NewUncompressed(c.maxSizeBytes)
	r.ts = append(r.ts, c.ts[i:]...)
	r.val = append(r.val, c.val[i:]...)
	c.ts = c.ts[:i:i]
	c.val = c.val[:i:i]
	return c, r
}

func (c *Uncompressed) RemoveRange(lo, hi int64) int {
	start := c.search(lo)
	end := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] > hi })
	if start >= end {
		return 0
	}
	n := end - start
	c.ts = append(c.ts[:start], c.ts[end:]...)
	c.val = append(c.val[:start], c.val[end:]...)
	return n
}
