package chunk

import (
	"math"
	"math/bits"

	"github.com/vktsdb/tsengine/dup"
	"github.com/vktsdb/tsengine/sample"
)

// Gorilla implements the Facebook-Gorilla-style delta-of-delta timestamp
// and XOR value codec (spec §4.B). Append extends the live bit-encoder
// state in O(1) amortized; Upsert/SplitAt/RemoveRange decode the full
// chunk, mutate, and re-encode from scratch, exactly as spec'd.
type Gorilla struct {
	maxSizeBytes int64

	count   int
	firstTS int64
	lastTS  int64

	w *bitWriter

	// timestamp encoder state
	lastDelta int64

	// value encoder state
	lastBits     uint64
	lastLeading  int
	lastTrailing int
}

var _ Chunk = (*Gorilla)(nil)

func NewGorilla(maxSizeBytes int64) *Gorilla {
	return &Gorilla{maxSizeBytes: maxSizeBytes, w: &bitWriter{}, lastLeading: -1}
}

func (c *Gorilla) FirstTimestamp() int64 { return c.firstTS }
func (c *Gorilla) LastTimestamp() int64  { return c.lastTS }
func (c *Gorilla) Len() int              { return c.count }
func (c *Gorilla) Compressed() bool      { return true }

func (c *Gorilla) SizeBytes() int64 { return int64(len(c.w.Bytes())) }

func (c *Gorilla) IsFull() bool { return c.SizeBytes() >= c.maxSizeBytes }

func (c *Gorilla) Append(s sample.Sample) error {
	if c.IsFull() {
		return ErrChunkFull
	}
	if c.count > 0 && s.Timestamp <= c.lastTS {
		return ErrSampleTooOld
	}
	c.appendLive(s)
	return nil
}

// appendLive extends the bit-encoder with one more sample without
// decoding anything, the append-only fast path spec §4.B describes.
func (c *Gorilla) appendLive(s sample.Sample) {
	bits64 := math.Float64bits(s.Value)
	switch c.count {
	case 0:
		c.firstTS = s.Timestamp
		c.w.writeBits(uint64(s.Timestamp), 64)
		c.w.writeBits(bits64, 64)
	case 1:
		delta := s.Timestamp - c.lastTS
		writeDelta(c.w, delta)
		c.lastDelta = delta
		writeXORValue(c.w, bits64, c.lastBits, &c.lastLeading, &c.lastTrailing)
	default:
		delta := s.Timestamp - c.lastTS
		dod := delta - c.lastDelta
		writeDoD(c.w, dod)
		c.lastDelta = delta
		writeXORValue(c.w, bits64, c.lastBits, &c.lastLeading, &c.lastTrailing)
	}
	c.lastTS = s.Timestamp
	c.lastBits = bits64
	c.count++
}

// decodeAll fully decodes the chunk into a plain sample slice, the
// shared entry point for Upsert/RangeIter/SplitAt/RemoveRange.
func (c *Gorilla) decodeAll() []sample.Sample {
	if c.count == 0 {
		return nil
	}
	r := newBitReader(c.w.Bytes())
	out := make([]sample.Sample, 0, c.count)

	ts := int64(r.readBits(64))
	curBits := r.readBits(64)
	out = append(out, sample.Sample{Timestamp: ts, Value: math.Float64frombits(curBits)})
	if c.count == 1 {
		return out
	}

	delta := readDelta(r)
	ts += delta
	leading, trailing := -1, 0
	curBits = readXORValue(r, curBits, &leading, &trailing)
	out = append(out, sample.Sample{Timestamp: ts, Value: math.Float64frombits(curBits)})

	for i := 2; i < c.count; i++ {
		dod := readDoD(r)
		delta += dod
		ts += delta
		curBits = readXORValue(r, curBits, &leading, &trailing)
		out = append(out, sample.Sample{Timestamp: ts, Value: math.Float64frombits(curBits)})
	}
	return out
}

// reencode rebuilds the live encoder state from a full sample slice.
func (c *Gorilla) reencode(samples []sample.Sample) {
	c.w = &bitWriter{}
	c.count = 0
	c.lastLeading = -1
	c.lastTrailing = 0
	c.lastDelta = 0
	c.firstTS = 0
	c.lastTS = 0
	c.lastBits = 0
	for _, s := range samples {
		c.appendLive(s)
	}
}

func (c *Gorilla) Upsert(s sample.Sample, policy dup.Policy) (sample.Sample, bool, error) {
	all := c.decodeAll()
	i := searchSamples(all, s.Timestamp)
	if i < len(all) && all[i].Timestamp == s.Timestamp {
		resolved, ok := dup.Resolve(policy, all[i].Value, s.Value)
		if !ok {
			return sample.Sample{}, false, nil
		}
		all[i].Value = resolved
		c.reencode(all)
		return sample.Sample{Timestamp: s.Timestamp, Value: resolved}, true, nil
	}
	// insert maintaining order, then check capacity
	all = append(all, sample.Sample{})
	copy(all[i+1:], all[i:])
	all[i] = s
	c.reencode(all)
	if c.IsFull() {
		// caller is expected to Split; still report success since spec
		// ties ChunkFull to the *next* append, not this structural insert.
		return s, true, nil
	}
	return s, true, nil
}

func (c *Gorilla) RangeIter(lo, hi int64) sample.Iterator {
	all := c.decodeAll()
	start := searchSamples(all, lo)
	end := start
	for end < len(all) && all[end].Timestamp <= hi {
		end++
	}
	return sample.NewSliceIterator(append([]sample.Sample{}, all[start:end]...))
}

func (c *Gorilla) SplitAt(ts int64) (left, right Chunk) {
	all := c.decodeAll()
	i := searchSamples(all, ts)
	c.reencode(all[:i])
	r := NewGorilla(c.maxSizeBytes)
	r.reencode(all[i:])
	return c, r
}

func (c *Gorilla) RemoveRange(lo, hi int64) int {
	all := c.decodeAll()
	start := searchSamples(all, lo)
	end := start
	for end < len(all) && all[end].Timestamp <= hi {
		end++
	}
	if start >= end {
		return 0
	}
	n := end - start
	all = append(all[:start], all[end:]...)
	c.reencode(all)
	return n
}

func searchSamples(all []sample.Sample, ts int64) int {
	lo, hi := 0, len(all)
	for lo < hi {
		mid := (lo + hi) / 2
		if all[mid].Timestamp < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// --- timestamp delta-of-delta codec ---

func writeDelta(w *bitWriter, delta int64) { w.writeBits(uint64(delta), 64) }
func readDelta(r *bitReader) int64         { return int64(r.readBits(64)) }

func writeDoD(w *bitWriter, dod int64) {
	switch {
	case dod == 0:
		w.writeBit(false)
	case dod >= -63 && dod <= 64:
		w.writeBits(0b10, 2)
		w.writeBits(uint64(dod+63)&0x7f, 7)
	case dod >= -255 && dod <= 256:
		w.writeBits(0b110, 3)
		w.writeBits(uint64(dod+255)&0x1ff, 9)
	case dod >= -2047 && dod <= 2048:
		w.writeBits(0b1110, 4)
		w.writeBits(uint64(dod+2047)&0xfff, 12)
	default:
		w.writeBits(0b1111, 4)
		w.writeBits(uint64(dod), 64)
	}
}

func readDoD(r *bitReader) int64 {
	if !r.readBit() {
		return 0
	}
	if !r.readBit() {
		v := int64(r.readBits(7)) - 63
		return v
	}
	if !r.readBit() {
		v := int64(r.readBits(9)) - 255
		return v
	}
	if !r.readBit() {
		v := int64(r.readBits(12)) - 2047
		return v
	}
	return int64(r.readBits(64))
}

// --- value XOR codec ---

func writeXORValue(w *bitWriter, curBits, prevBits uint64, leading *int, trailing *int) {
	xor := curBits ^ prevBits
	if xor == 0 {
		w.writeBit(false)
		return
	}
	w.writeBit(true)
	lz := bits.LeadingZeros64(xor)
	tz := bits.TrailingZeros64(xor)
	if *leading >= 0 && lz >= *leading && tz >= *trailing {
		w.writeBit(false)
		meaningful := 64 - *leading - *trailing
		w.writeBits(xor>>uint(*trailing), meaningful)
		return
	}
	w.writeBit(true)
	if lz > 31 {
		lz = 31
	}
	meaningfulLen := 64 - lz - tz
	w.writeBits(uint64(lz), 5)
	w.writeBits(uint64(meaningfulLen-1), 6)
	w.writeBits(xor>>uint(tz), meaningfulLen)
	*leading = lz
	*trailing = tz
}

func readXORValue(r *bitReader, prevBits uint64, leading *int, trailing *int) uint64 {
	if !r.readBit() {
		return prevBits
	}
	if !r.readBit() {
		meaningful := 64 - *leading - *trailing
		v := r.readBits(meaningful) << uint(*trailing)
		return prevBits ^ v
	}
	lz := int(r.readBits(5))
	meaningfulLen := int(r.readBits(6)) + 1
	tz := 64 - lz - meaningfulLen
	v := r.readBits(meaningfulLen) << uint(tz)
	*leading = lz
	*trailing = tz
	return prevBits ^ v
}
