package agg

import (
	"math"

	"github.com/vktsdb/tsengine/kahan"
)

// countIfAgg/sumIfAgg/shareAgg/boolReduceAgg are the predicate-driven
// family (spec §4.D): each sample is tested against op/threshold and
// only matching samples contribute, except Share, which reports the
// fraction of all non-NaN samples (matching or not) that matched.

type countIfAgg struct {
	op        CompareOp
	threshold float64
	n         int
}

func (a *countIfAgg) Update(_ int64, v float64) {
	if isNaN(v) || !a.op.match(v, a.threshold) {
		return
	}
	a.n++
}
func (a *countIfAgg) Reset()          { a.n = 0 }
func (a *countIfAgg) EmptyValue() float64 { return 0 }
func (a *countIfAgg) Kind() Kind      { return CountIf }
func (a *countIfAgg) Current() (float64, bool) {
	return float64(a.n), true
}
func (a *countIfAgg) Finalize() float64 {
	v, _ := a.Current()
	a.Reset()
	return v
}
func (a *countIfAgg) SaveState() []byte { return encodeF64s(float64(a.n)) }
func (a *countIfAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 1)
	if err != nil {
		return err
	}
	a.n = int(vals[0])
	return nil
}
func (a *countIfAgg) Clone() Aggregator { return &countIfAgg{op: a.op, threshold: a.threshold} }

type sumIfAgg struct {
	op        CompareOp
	threshold float64
	sum       kahan.Accumulator
	n         int
}

func (a *sumIfAgg) Update(_ int64, v float64) {
	if isNaN(v) || !a.op.match(v, a.threshold) {
		return
	}
	a.sum.Add(v)
	a.n++
}
func (a *sumIfAgg) Reset()          { a.sum.Reset(); a.n = 0 }
func (a *sumIfAgg) EmptyValue() float64 { return 0 }
func (a *sumIfAgg) Kind() Kind      { return SumIf }
func (a *sumIfAgg) Current() (float64, bool) {
	return a.sum.Value(), true
}
func (a *sumIfAgg) Finalize() float64 {
	v, _ := a.Current()
	a.Reset()
	return v
}
func (a *sumIfAgg) SaveState() []byte { return encodeF64s(a.sum.Value(), float64(a.n)) }
func (a *sumIfAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 2)
	if err != nil {
		return err
	}
	a.sum.Reset()
	a.sum.Add(vals[0])
	a.n = int(vals[1])
	return nil
}
func (a *sumIfAgg) Clone() Aggregator { return &sumIfAgg{op: a.op, threshold: a.threshold} }

// shareAgg reports matched/total across all non-NaN samples (spec §4.D:
// "NaN values are excluded from the denominator but every other sample,
// matching or not, is counted").
type shareAgg struct {
	op          CompareOp
	threshold   float64
	matched     int
	totalCount  int
}

func (a *shareAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	a.totalCount++
	if a.op.match(v, a.threshold) {
		a.matched++
	}
}
func (a *shareAgg) Reset()          { a.matched, a.totalCount = 0, 0 }
func (a *shareAgg) EmptyValue() float64 { return math.NaN() }
func (a *shareAgg) Kind() Kind      { return Share }
func (a *shareAgg) Current() (float64, bool) {
	if a.totalCount == 0 {
		return 0, false
	}
	return float64(a.matched) / float64(a.totalCount), true
}
func (a *shareAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *shareAgg) SaveState() []byte { return encodeF64s(float64(a.matched), float64(a.totalCount)) }
func (a *shareAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 2)
	if err != nil {
		return err
	}
	a.matched, a.totalCount = int(vals[0]), int(vals[1])
	return nil
}
func (a *shareAgg) Clone() Aggregator { return &shareAgg{op: a.op, threshold: a.threshold} }

type boolMode uint8

const (
	boolAll boolMode = iota
	boolNone
	boolAny
)

// boolReduceAgg implements All/None/Any: a boolean fold over the
// match/no-match outcome of every non-NaN sample in the bucket.
type boolReduceAgg struct {
	mode       boolMode
	op         CompareOp
	threshold  float64
	seen       bool
	anyMatched bool
	allMatched bool
}

func (a *boolReduceAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	matched := a.op.match(v, a.threshold)
	if !a.seen {
		a.allMatched = matched
		a.anyMatched = matched
		a.seen = true
		return
	}
	a.allMatched = a.allMatched && matched
	a.anyMatched = a.anyMatched || matched
}
func (a *boolReduceAgg) Reset() {
	a.seen, a.anyMatched, a.allMatched = false, false, false
}
func (a *boolReduceAgg) EmptyValue() float64 { return math.NaN() }
func (a *boolReduceAgg) Kind() Kind {
	switch a.mode {
	case boolAll:
		return All
	case boolNone:
		return None
	default:
		return Any
	}
}
func (a *boolReduceAgg) Current() (float64, bool) {
	if !a.seen {
		return 0, false
	}
	var result bool
	switch a.mode {
	case boolAll:
		result = a.allMatched
	case boolNone:
		result = !a.anyMatched
	case boolAny:
		result = a.anyMatched
	}
	if result {
		return 1, true
	}
	return 0, true
}
func (a *boolReduceAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *boolReduceAgg) SaveState() []byte {
	b := byte(0)
	if a.seen {
		b |= 1
	}
	if a.anyMatched {
		b |= 2
	}
	if a.allMatched {
		b |= 4
	}
	return []byte{b}
}
func (a *boolReduceAgg) LoadState(b []byte) error {
	if len(b) < 1 {
		return errShortState
	}
	a.seen = b[0]&1 != 0
	a.anyMatched = b[0]&2 != 0
	a.allMatched = b[0]&4 != 0
	return nil
}
func (a *boolReduceAgg) Clone() Aggregator {
	return &boolReduceAgg{mode: a.mode, op: a.op, threshold: a.threshold}
}
