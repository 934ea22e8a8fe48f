package fanout

import (
	"bytes"

	"github.com/vktsdb/tsengine/cmn/cos"
)

// ConcatLimitMerger implements the "concat+limit" multi-shard merge rule
// of spec §5 for MGET/MRANGE: unlike the set-like merge used for
// LABEL_NAMES/LABEL_VALUES, replies are not deduplicated or sorted here —
// each target's reply is one opaque item, appended in arrival order and
// framed length-prefixed so the host can split them back apart. Final
// sort-by-key and the overall result shaping is the host's job once it
// decodes the per-series entries (spec §1 "wire-protocol parsing ...
// explicitly out of scope"); this merger only bounds the item count.
type ConcatLimitMerger struct {
	limit int
	items [][]byte
}

// NewConcatLimitMerger returns a Merger that keeps at most the first
// limit replies it receives; limit <= 0 means unbounded.
func NewConcatLimitMerger(limit int) *ConcatLimitMerger {
	return &ConcatLimitMerger{limit: limit}
}

func (m *ConcatLimitMerger) Merge(_ Target, payload []byte) error {
	if m.limit > 0 && len(m.items) >= m.limit {
		return nil
	}
	m.items = append(m.items, payload)
	return nil
}

func (m *ConcatLimitMerger) Final() []byte {
	var buf bytes.Buffer
	for _, it := range m.items {
		_ = cos.PutLengthPrefixed(&buf, it)
	}
	return buf.Bytes()
}
