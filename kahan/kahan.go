// Package kahan implements compensated summation (component A):
// Kahan-Neumaier summation so Sum/Avg/Variance/StdDev aggregators don't
// accumulate floating-point rounding error across long sample runs.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package kahan

// Accumulator implements the Neumaier variant of Kahan summation.
// The zero value is a valid, zeroed accumulator.
type Accumulator struct {
	sum float64
	c   float64 // running compensation
}

func (a *Accumulator) Reset() {
	a.sum = 0
	a.c = 0
}

// Add folds x into the running sum. The combine step is factored into a
// separate, non-inlinable function so the compiler cannot reorder the
// compensation arithmetic under IEEE-754 semantics.
func (a *Accumulator) Add(x float64) {
	a.sum, a.c = neumaierStep(a.sum, a.c, x)
}

func (a *Accumulator) Value() float64 { return a.sum + a.c }

// Err returns the currently tracked compensation term (for diagnostics).
func (a *Accumulator) Err() float64 { return a.c }

// Merge combines two independent accumulators, as required when
// aggregating partial sums from multiple chunks or fan-out shards.
// The larger-magnitude side becomes the running sum, per spec §4.A.
func (a *Accumulator) Merge(other *Accumulator) {
	as, ac := a.sum, a.c
	os, oc := other.sum, other.c
	if absf(os) > absf(as) {
		as, os = os, as
	}
	sum := as + os
	// recombine compensations conservatively
	a.sum = sum
	a.c = ac + oc
}

//go:noinline
func neumaierStep(sum, c, x float64) (newSum, newC float64) {
	t := sum + x
	if absf(sum) >= absf(x) {
		c += (sum - t) + x
	} else {
		c += (x - t) + sum
	}
	return t, c
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
