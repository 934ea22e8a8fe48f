// Package agg implements the aggregator family (component D): a closed
// set of ~20 fold operators used by both the bucket aggregation iterator
// (component E) and the compaction engine (component I).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package agg

import (
	"fmt"
	"math"
)

// Aggregator is implemented by every variant. update/reset/current form
// the streaming contract; Finalize is current().unwrap_or(empty_value())
// followed by reset, per spec §4.D.
type Aggregator interface {
	Update(ts int64, value float64)
	Reset()
	Current() (float64, bool)
	Finalize() float64
	EmptyValue() float64
	Kind() Kind

	// SaveState/LoadState are the opaque byte-stream save/load hooks
	// spec §4.D requires; rdb wraps these with the discriminator tag.
	SaveState() []byte
	LoadState([]byte) error

	// Clone returns a fresh, reset aggregator of the same kind and
	// parameters — used when a compaction rule is (re)created (spec §9
	// open question 2: the rule's rate aggregator is recreated, not
	// mutated, whenever the rule itself is recreated).
	Clone() Aggregator
}

type Kind uint8

const (
	_ Kind = iota
	Sum
	Avg
	Min
	Max
	Count
	First
	Last
	RangeKind
	StdS
	StdP
	VarS
	VarP
	Rate
	IRate
	Increase
	CountIf
	SumIf
	Share
	All
	None
	Any
	TWA
)

func (k Kind) String() string {
	switch k {
	case Sum:
		return "Sum"
	case Avg:
		return "Avg"
	case Min:
		return "Min"
	case Max:
		return "Max"
	case Count:
		return "Count"
	case First:
		return "First"
	case Last:
		return "Last"
	case RangeKind:
		return "Range"
	case StdS:
		return "StdS"
	case StdP:
		return "StdP"
	case VarS:
		return "VarS"
	case VarP:
		return "VarP"
	case Rate:
		return "Rate"
	case IRate:
		return "IRate"
	case Increase:
		return "Increase"
	case CountIf:
		return "CountIf"
	case SumIf:
		return "SumIf"
	case Share:
		return "Share"
	case All:
		return "All"
	case None:
		return "None"
	case Any:
		return "Any"
	case TWA:
		return "TWA"
	default:
		return "Unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	for k := Sum; k <= TWA; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid aggregation %q", s)
}

// CompareOp is the comparison operator used by CountIf/SumIf/Share/All/
// None/Any (spec §4.D).
type CompareOp int

const (
	OpLT CompareOp = iota
	OpLTE
	OpGT
	OpGTE
	OpEQ
	OpNEQ
)

func (op CompareOp) match(v, threshold float64) bool {
	switch op {
	case OpLT:
		return v < threshold
	case OpLTE:
		return v <= threshold
	case OpGT:
		return v > threshold
	case OpGTE:
		return v >= threshold
	case OpEQ:
		return v == threshold
	case OpNEQ:
		return v != threshold
	default:
		return false
	}
}

// Params bundles every construction-time parameter across the family:
// WindowMS for Rate, Op/Threshold for the conditional aggregators.
type Params struct {
	WindowMS  int64
	Op        CompareOp
	Threshold float64
}

// New constructs the Aggregator for kind, per spec §4.D. The rate
// family's window_ms is plumbed in at construction (spec §9 open
// question 2); the compaction engine recreates the aggregator whenever
// a rule's bucket_duration changes rather than mutating WindowMS live.
func New(kind Kind, p Params) (Aggregator, error) {
	switch kind {
	case Sum:
		return &sumAgg{}, nil
	case Avg:
		return &avgAgg{}, nil
	case Min:
		return &minMaxAgg{isMax: false}, nil
	case Max:
		return &minMaxAgg{isMax: true}, nil
	case Count:
		return &countAgg{}, nil
	case First:
		return &firstLastAgg{first: true}, nil
	case Last:
		return &firstLastAgg{first: false}, nil
	case RangeKind:
		return &rangeAgg{}, nil
	case StdS:
		return &varianceAgg{kind: StdS}, nil
	case StdP:
		return &varianceAgg{kind: StdP}, nil
	case VarS:
		return &varianceAgg{kind: VarS}, nil
	case VarP:
		return &varianceAgg{kind: VarP}, nil
	case Rate:
		return &rateAgg{windowMS: p.WindowMS}, nil
	case IRate:
		return &irateAgg{}, nil
	case Increase:
		return &increaseAgg{}, nil
	case CountIf:
		return &countIfAgg{op: p.Op, threshold: p.Threshold}, nil
	case SumIf:
		return &sumIfAgg{op: p.Op, threshold: p.Threshold}, nil
	case Share:
		return &shareAgg{op: p.Op, threshold: p.Threshold}, nil
	case All:
		return &boolReduceAgg{mode: boolAll, op: p.Op, threshold: p.Threshold}, nil
	case None:
		return &boolReduceAgg{mode: boolNone, op: p.Op, threshold: p.Threshold}, nil
	case Any:
		return &boolReduceAgg{mode: boolAny, op: p.Op, threshold: p.Threshold}, nil
	case TWA:
		return &twaAgg{}, nil
	default:
		return nil, fmt.Errorf("invalid aggregation kind %v", kind)
	}
}

func isNaN(v float64) bool { return math.IsNaN(v) }
