package agg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errShortState = errors.New("short aggregator state")

// encodeF64s/decodeF64s implement each aggregator's SaveState/LoadState
// as a flat little-endian f64 array with no length prefix (counts are
// stored as f64 elements); encodeWithPresence prefixes one value with a
// one-byte presence flag. Kept deliberately simple: the
// rdb package wraps these with the discriminator tag byte (spec §6
// "aggregator (tag u8 + state)").

func encodeF64s(vals ...float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeF64s(b []byte, n int) ([]float64, error) {
	if len(b) < 8*n {
		return nil, fmt.Errorf("short aggregator state: want %d bytes, got %d", 8*n, len(b))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

func encodeWithPresence(present bool, v float64) []byte {
	b := make([]byte, 9)
	if present {
		b[0] = 1
	}
	binary.LittleEndian.PutUint64(b[1:], math.Float64bits(v))
	return b
}

func decodeWithPresence(b []byte) (present bool, v float64, err error) {
	if len(b) < 9 {
		return false, 0, fmt.Errorf("short presence-tagged state")
	}
	present = b[0] == 1
	v = math.Float64frombits(binary.LittleEndian.Uint64(b[1:]))
	return present, v, nil
}
