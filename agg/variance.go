package agg

import (
	"math"

	"github.com/vktsdb/tsengine/kahan"
)

// varianceAgg backs StdS/StdP/VarS/VarP: maintains (sum, sum_sq, count)
// via Kahan summation; variance = sum_sq - 2*sum*avg + avg²*count,
// sample variance divides by count-1, population by count (spec §4.D).
type varianceAgg struct {
	kind  Kind
	sum   kahan.Accumulator
	sumSq kahan.Accumulator
	n     int
}

func (a *varianceAgg) Update(_ int64, v float64) {
	if isNaN(v) {
		return
	}
	a.sum.Add(v)
	a.sumSq.Add(v * v)
	a.n++
}

func (a *varianceAgg) Reset() {
	a.sum.Reset()
	a.sumSq.Reset()
	a.n = 0
}

func (a *varianceAgg) EmptyValue() float64 { return math.NaN() }
func (a *varianceAgg) Kind() Kind          { return a.kind }

func (a *varianceAgg) variance() float64 {
	n := float64(a.n)
	avg := a.sum.Value() / n
	ssd := a.sumSq.Value() - 2*avg*a.sum.Value() + avg*avg*n
	switch a.kind {
	case VarS, StdS:
		return ssd / (n - 1)
	default: // VarP, StdP
		return ssd / n
	}
}

func (a *varianceAgg) Current() (float64, bool) {
	if a.n == 0 {
		return 0, false
	}
	v := a.variance()
	if a.kind == StdS || a.kind == StdP {
		v = math.Sqrt(v)
	}
	return v, true
}

func (a *varianceAgg) Finalize() float64 {
	v, ok := a.Current()
	if !ok {
		v = a.EmptyValue()
	}
	a.Reset()
	return v
}

func (a *varianceAgg) SaveState() []byte {
	return encodeF64s(a.sum.Value(), a.sumSq.Value(), float64(a.n))
}

func (a *varianceAgg) LoadState(b []byte) error {
	vals, err := decodeF64s(b, 3)
	if err != nil {
		return err
	}
	a.sum.Reset()
	a.sum.Add(vals[0])
	a.sumSq.Reset()
	a.sumSq.Add(vals[1])
	a.n = int(vals[2])
	return nil
}

func (a *varianceAgg) Clone() Aggregator { return &varianceAgg{kind: a.kind} }
