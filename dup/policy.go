// Package dup implements the duplicate-sample resolution policy shared
// by series and chunk (spec §3 "sample_duplicates", §4.C step 2).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dup

import "fmt"

type Policy uint8

const (
	Block Policy = iota
	First
	Last
	Min
	Max
	Sum
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "Block"
	case First:
		return "First"
	case Last:
		return "Last"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case Sum:
		return "Sum"
	default:
		return "Unknown"
	}
}

func Parse(s string) (Policy, error) {
	switch s {
	case "Block", "":
		return Block, nil
	case "First":
		return First, nil
	case "Last":
		return Last, nil
	case "Min":
		return Min, nil
	case "Max":
		return Max, nil
	case "Sum":
		return Sum, nil
	default:
		return Block, fmt.Errorf("invalid duplicate policy %q", s)
	}
}

// Resolve computes the value to store when a new sample arrives at a
// timestamp already occupied by old. ok is false when the policy is
// Block (caller must translate that into a DuplicateBlocked error and
// not mutate storage).
func Resolve(policy Policy, old, newVal float64) (value float64, ok bool) {
	switch policy {
	case Block:
		return 0, false
	case First:
		return old, true
	case Last:
		return newVal, true
	case Min:
		if newVal < old {
			return newVal, true
		}
		return old, true
	case Max:
		if newVal > old {
			return newVal, true
		}
		return old, true
	case Sum:
		return old + newVal, true
	default:
		return 0, false
	}
}

// Tolerance is the symmetric-in-time, absolute-in-value duplicate
// detection window (spec §3 "max_time_delta", "max_value_delta"; §9
// "Duplicate-tolerance window").
type Tolerance struct {
	MaxTimeDelta int64   // ms
	MaxValueDiff float64 // absolute
}

// WithinWindow reports whether (ts, val) is considered a duplicate of
// (lastTS, lastVal) under tol. A NaN tolerance value never matches,
// per spec §9.
func (tol Tolerance) WithinWindow(ts int64, val float64, lastTS int64, lastVal float64) bool {
	if tol.MaxValueDiff != tol.MaxValueDiff { // NaN tolerance never matches
		return false
	}
	dt := ts - lastTS
	if dt < 0 {
		dt = -dt
	}
	if dt > tol.MaxTimeDelta {
		return false
	}
	dv := val - lastVal
	if dv < 0 {
		dv = -dv
	}
	return dv <= tol.MaxValueDiff
}
