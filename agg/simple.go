package agg

import (
	"math"

	"github.com/vktsdb/tsengine/kahan"
)

// sumAgg / countAgg: empty_value is 0.0, per spec §4.D.

type sumAgg struct {
	acc kahan.Accumulator
	n   int
}

func (a *sumAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	a.acc.Add(v)
	a.n++
}
func (a *sumAgg) Reset()          { a.acc.Reset(); a.n = 0 }
func (a *sumAgg) EmptyValue() float64 { return 0 }
func (a *sumAgg) Kind() Kind      { return Sum }
func (a *sumAgg) Current() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	return a.acc.Value(), true
}
func (a *sumAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *sumAgg) SaveState() []byte { return encodeF64s(a.acc.Value(), float64(a.n)) }
func (a *sumAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 2)
	if err != nil {
		return err
	}
	a.acc.Reset()
	a.acc.Add(vals[0])
	a.n = int(vals[1])
	return nil
}
func (a *sumAgg) Clone() Aggregator { return &sumAgg{} }

type countAgg struct{ n int }

func (a *countAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	a.n++
}
func (a *countAgg) Reset()          { a.n = 0 }
func (a *countAgg) EmptyValue() float64 { return 0 }
func (a *countAgg) Kind() Kind      { return Count }
func (a *countAgg) Current() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	return float64(a.n), true
}
func (a *countAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *countAgg) SaveState() []byte { return encodeF64s(float64(a.n)) }
func (a *countAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 1)
	if err != nil {
		return err
	}
	a.n = int(vals[0])
	return nil
}
func (a *countAgg) Clone() Aggregator { return &countAgg{} }

// avgAgg maintains (sum, count) via Kahan summation.
type avgAgg struct {
	acc kahan.Accumulator
	n   int
}

func (a *avgAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	a.acc.Add(v)
	a.n++
}
func (a *avgAgg) Reset()          { a.acc.Reset(); a.n = 0 }
func (a *avgAgg) EmptyValue() float64 { return nan() }
func (a *avgAgg) Kind() Kind      { return Avg }
func (a *avgAgg) Current() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	return a.acc.Value() / float64(a.n), true
}
func (a *avgAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *avgAgg) SaveState() []byte { return encodeF64s(a.acc.Value(), float64(a.n)) }
func (a *avgAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 2)
	if err != nil {
		return err
	}
	a.acc.Reset()
	a.acc.Add(vals[0])
	a.n = int(vals[1])
	return nil
}
func (a *avgAgg) Clone() Aggregator { return &avgAgg{} }

// minMaxAgg covers both Min and Max, per spec's compact variant sizing
// note (§9 "small state").
type minMaxAgg struct {
	isMax bool
	v     float64
	set   bool
}

func (a *minMaxAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	if !a.set {
		a.v, a.set = v, true
		return
	}
	if (a.isMax && v > a.v) || (!a.isMax && v < a.v) {
		a.v = v
	}
}
func (a *minMaxAgg) Reset()          { a.set = false; a.v = 0 }
func (a *minMaxAgg) EmptyValue() float64 { return nan() }
func (a *minMaxAgg) Kind() Kind {
	if a.isMax {
		return Max
	}
	return Min
}
func (a *minMaxAgg) Current() (float64, bool) { return a.v, a.set }
func (a *minMaxAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *minMaxAgg) SaveState() []byte { return encodeWithPresence(a.set, a.v) }
func (a *minMaxAgg) LoadState(b []byte) error {
	set, v, err := decodeWithPresence(b)
	if err != nil {
		return err
	}
	a.set, a.v = set, v
	return nil
}
func (a *minMaxAgg) Clone() Aggregator { return &minMaxAgg{isMax: a.isMax} }

// firstLastAgg covers both First (keeps the first seen value) and Last
// (always overwrites).
type firstLastAgg struct {
	first   bool
	v       float64
	set     bool
	everSet bool // Last only: true once any real sample has ever been seen
}

func (a *firstLastAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	if a.first && a.set {
		return
	}
	a.v, a.set, a.everSet = v, true, true
}
func (a *firstLastAgg) Reset()          { a.set, a.everSet, a.v = false, false, 0 }
func (a *firstLastAgg) EmptyValue() float64 {
	// For Last, an empty bucket fills with the most recently seen
	// non-NaN value rather than NaN (spec §4.E); First has no such
	// carry-forward.
	if !a.first && a.everSet {
		return a.v
	}
	return nan()
}
func (a *firstLastAgg) Kind() Kind {
	if a.first {
		return First
	}
	return Last
}
func (a *firstLastAgg) Current() (float64, bool) { return a.v, a.set }
func (a *firstLastAgg) Finalize() float64 {
	// Last's empty-bucket filler is the most recently seen non-NaN value
	// (spec §4.E), so Last retains a.v across finalize; only its
	// "received a sample this bucket" flag resets.
	if !a.first {
		var v float64
		switch {
		case a.set:
			v = a.v
		case a.everSet:
			v = a.v
		default:
			v = a.EmptyValue()
		}
		a.set = false
		return v
	}
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *firstLastAgg) SaveState() []byte {
	everSet := byte(0)
	if a.everSet {
		everSet = 1
	}
	return append([]byte{everSet}, encodeWithPresence(a.set, a.v)...)
}
func (a *firstLastAgg) LoadState(b []byte) error {
	if len(b) < 1 {
		return errShortState
	}
	set, v, err := decodeWithPresence(b[1:])
	if err != nil {
		return err
	}
	a.everSet = b[0] == 1
	a.set, a.v = set, v
	return nil
}
func (a *firstLastAgg) Clone() Aggregator { return &firstLastAgg{first: a.first} }

// rangeAgg: max - min, initialized on first update.
type rangeAgg struct {
	min, max float64
	set      bool
}

func (a *rangeAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	if !a.set {
		a.min, a.max, a.set = v, v, true
		return
	}
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
}
func (a *rangeAgg) Reset()          { a.set = false; a.min, a.max = 0, 0 }
func (a *rangeAgg) EmptyValue() float64 { return nan() }
func (a *rangeAgg) Kind() Kind      { return RangeKind }
func (a *rangeAgg) Current() (float64, bool) {
	if !a.set {
		return 0, false
	}
	return a.max - a.min, true
}
func (a *rangeAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *rangeAgg) SaveState() []byte { return append(encodeWithPresence(a.set, a.min), encodeF64s(a.max)...) }
func (a *rangeAgg) LoadState(b []byte) error {
	set, min, err := decodeWithPresence(b)
	if err != nil {
		return err
	}
	maxVals, err := decodeF64s(b[9:], 1)
	if err != nil {
		return err
	}
	a.set, a.min, a.max = set, min, maxVals[0]
	return nil
}
func (a *rangeAgg) Clone() Aggregator { return &rangeAgg{} }

// twaAgg: time-weighted average (SPEC_FULL §12.5), linear interpolation
// between samples weighted by the time elapsed since the previous one;
// falls back to plain average when the bucket holds a single sample.
type twaAgg struct {
	weightedSum kahan.Accumulator
	totalWeight float64
	lastTS      int64
	lastVal     float64
	n           int
}

func (a *twaAgg) Update(ts int64, v float64) {
	if isNaN(v) {
		return
	}
	if a.n > 0 {
		dt := float64(ts - a.lastTS)
		if dt > 0 {
			a.weightedSum.Add((a.lastVal + v) / 2 * dt)
			a.totalWeight += dt
		}
	}
	a.lastTS, a.lastVal = ts, v
	a.n++
}
func (a *twaAgg) Reset() {
	a.weightedSum.Reset()
	a.totalWeight = 0
	a.n = 0
}
func (a *twaAgg) EmptyValue() float64 { return nan() }
func (a *twaAgg) Kind() Kind          { return TWA }
func (a *twaAgg) Current() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	if a.totalWeight == 0 {
		return a.lastVal, true
	}
	return a.weightedSum.Value() / a.totalWeight, true
}
func (a *twaAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}
func (a *twaAgg) SaveState() []byte {
	return encodeF64s(a.weightedSum.Value(), a.totalWeight, float64(a.lastTS), a.lastVal, float64(a.n))
}
func (a *twaAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 5)
	if err != nil {
		return err
	}
	a.weightedSum.Reset()
	a.weightedSum.Add(vals[0])
	a.totalWeight = vals[1]
	a.lastTS = int64(vals[2])
	a.lastVal = vals[3]
	a.n = int(vals[4])
	return nil
}
func (a *twaAgg) Clone() Aggregator { return &twaAgg{} }

func nan() float64 { return math.NaN() }
