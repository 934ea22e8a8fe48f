package agg

import "math"

// rateAgg/irateAgg/increaseAgg are the counter-derived family (spec §4.D):
// samples are assumed monotonically non-decreasing; a drop from one
// sample to the next is a counter reset, and the reset sample becomes
// the new baseline rather than contributing a negative delta.

// rateAgg: Increase over the bucket divided by windowMS, the bucket's
// configured duration in milliseconds at construction time (spec §9 open
// question 2 — WindowMS is fixed per-instance; a changed bucket_duration
// recreates the rule's aggregator instead of mutating this one).
type rateAgg struct {
	windowMS int64
	inc      increaseAgg
}

func (a *rateAgg) Update(ts int64, v float64) { a.inc.Update(ts, v) }
func (a *rateAgg) Reset()                     { a.inc.Reset() }
func (a *rateAgg) EmptyValue() float64        { return math.NaN() }
func (a *rateAgg) Kind() Kind                 { return Rate }
func (a *rateAgg) Current() (float64, bool) {
	v, ok := a.inc.Current()
	if !ok || a.windowMS == 0 {
		return 0, false
	}
	// Counter units per millisecond of the bucket window.
	return v / float64(a.windowMS), true
}
func (a *rateAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *rateAgg) SaveState() []byte      { return a.inc.SaveState() }
func (a *rateAgg) LoadState(b []byte) error { return a.inc.LoadState(b) }
func (a *rateAgg) Clone() Aggregator       { return &rateAgg{windowMS: a.windowMS} }

// increaseAgg: counter-reset-aware difference between the last and first
// value seen in the bucket. A reset (value decreases) banks the increase
// accumulated up to that point and restarts accumulation from the reset
// sample, per the counter semantics in spec §4.D.
type increaseAgg struct {
	first, last float64
	haveFirst   bool
	accum       float64 // accumulated increase across resets within the bucket
}

func (a *increaseAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	if !a.haveFirst {
		a.first, a.last, a.haveFirst = v, v, true
		return
	}
	if v < a.last {
		// counter reset: bank the increase up to the reset, restart.
		a.accum += a.last - a.first
		a.first = v
	}
	a.last = v
}
func (a *increaseAgg) Reset() {
	a.haveFirst = false
	a.first, a.last, a.accum = 0, 0, 0
}
func (a *increaseAgg) EmptyValue() float64 { return math.NaN() }
func (a *increaseAgg) Kind() Kind          { return Increase }
func (a *increaseAgg) Current() (float64, bool) {
	if !a.haveFirst {
		return 0, false
	}
	return a.accum + (a.last - a.first), true
}
func (a *increaseAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *increaseAgg) SaveState() []byte {
	present := byte(0)
	if a.haveFirst {
		present = 1
	}
	b := encodeF64s(a.first, a.last, a.accum)
	return append([]byte{present}, b...)
}
func (a *increaseAgg) LoadState(b []byte) error {
	if len(b) < 1 {
		return errShortState
	}
	vals, err := decodeF64s(b[1:], 3)
	if err != nil {
		return err
	}
	a.haveFirst = b[0] == 1
	a.first, a.last, a.accum = vals[0], vals[1], vals[2]
	return nil
}
func (a *increaseAgg) Clone() Aggregator { return &increaseAgg{} }

// irateAgg: instantaneous rate between the last two samples seen, per
// second of wall-clock time between them (ms granularity, per spec §4.D).
// A counter reset between the two most recent samples yields NaN.
type irateAgg struct {
	haveOne, haveTwo bool
	prevTS, lastTS   int64
	prevVal, lastVal float64
}

func (a *irateAgg) Update(ts int64, v float64) {
	if isNaN(v) {
		return
	}
	if !a.haveOne {
		a.lastTS, a.lastVal, a.haveOne = ts, v, true
		return
	}
	a.prevTS, a.prevVal = a.lastTS, a.lastVal
	a.lastTS, a.lastVal = ts, v
	a.haveTwo = true
}
func (a *irateAgg) Reset() {
	a.haveOne, a.haveTwo = false, false
	a.prevTS, a.lastTS = 0, 0
	a.prevVal, a.lastVal = 0, 0
}
func (a *irateAgg) EmptyValue() float64 { return math.NaN() }
func (a *irateAgg) Kind() Kind          { return IRate }
func (a *irateAgg) Current() (float64, bool) {
	if !a.haveTwo {
		return 0, false
	}
	if a.lastVal < a.prevVal {
		return math.NaN(), true
	}
	dt := a.lastTS - a.prevTS
	if dt <= 0 {
		return math.NaN(), true
	}
	return (a.lastVal - a.prevVal) / float64(dt) * 1000, true
}
func (a *irateAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *irateAgg) SaveState() []byte {
	flags := byte(0)
	if a.haveOne {
		flags |= 1
	}
	if a.haveTwo {
		flags |= 2
	}
	b := encodeF64s(float64(a.prevTS), a.prevVal, float64(a.lastTS), a.lastVal)
	return append([]byte{flags}, b...)
}
func (a *irateAgg) LoadState(b []byte) error {
	if len(b) < 1 {
		return errShortState
	}
	vals, err := decodeF64s(b[1:], 4)
	if err != nil {
		return err
	}
	a.haveOne = b[0]&1 != 0
	a.haveTwo = b[0]&2 != 0
	a.prevTS, a.prevVal = int64(vals[0]), vals[1]
	a.lastTS, a.lastVal = int64(vals[2]), vals[3]
	return nil
}
func (a *irateAgg) Clone() Aggregator { return &irateAgg{} }
