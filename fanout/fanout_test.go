package fanout_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vktsdb/tsengine/fanout"
)

type fakeTransport struct {
	delay map[string]time.Duration
	err   map[string]error
}

func (f *fakeTransport) Send(ctx context.Context, target fanout.Target, payload []byte) ([]byte, error) {
	if d, ok := f.delay[target.ShardID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.err[target.ShardID]; ok {
		return nil, err
	}
	return []byte(target.ShardID), nil
}

type countingMerger struct {
	mu   sync.Mutex
	seen []string
}

func (m *countingMerger) Merge(target fanout.Target, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, string(payload))
	return nil
}

func (m *countingMerger) Final() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []byte(strings.Join(m.seen, ","))
}

func TestDispatchMergesEveryShardAndLocal(t *testing.T) {
	tr := &fakeTransport{}
	c := fanout.New(tr, fanout.Target{ShardID: "local", Addr: "self"}, 1)
	c.SetShard("s1", []fanout.Target{{ShardID: "s1", Addr: "h1"}})
	c.SetShard("s2", []fanout.Target{{ShardID: "s2", Addr: "h2"}})

	merger := &countingMerger{}
	local := func() ([]byte, error) { return []byte("local"), nil }

	_, err := c.Dispatch(context.Background(), time.Second, merger, local)
	assert.NoError(t, err)

	merger.mu.Lock()
	defer merger.mu.Unlock()
	assert.Len(t, merger.seen, 3)
	assert.Contains(t, merger.seen, "local")
	assert.Contains(t, merger.seen, "s1")
	assert.Contains(t, merger.seen, "s2")
}

func TestDispatchTimeoutWithNoRepliesReturnsError(t *testing.T) {
	tr := &fakeTransport{delay: map[string]time.Duration{"s1": 500 * time.Millisecond}}
	c := fanout.New(tr, fanout.Target{ShardID: "local", Addr: "self"}, 1)
	c.SetShard("s1", []fanout.Target{{ShardID: "s1", Addr: "h1"}})

	merger := &countingMerger{}
	blockLocal := make(chan struct{})
	local := func() ([]byte, error) {
		<-blockLocal
		return []byte("local"), nil
	}
	defer close(blockLocal)

	_, err := c.Dispatch(context.Background(), 20*time.Millisecond, merger, local)
	assert.Error(t, err)
}

// TestS7FanoutWithPartialFailure mirrors spec §8 scenario S7: a
// three-shard cluster where one shard never replies. After the deadline,
// Dispatch must return a Timeout error rather than quietly emitting the
// responding shards' partial results as a success.
func TestS7FanoutWithPartialFailure(t *testing.T) {
	tr := &fakeTransport{delay: map[string]time.Duration{"B": time.Hour}}
	c := fanout.New(tr, fanout.Target{ShardID: "local", Addr: "self"}, 1)
	c.SetShard("A", []fanout.Target{{ShardID: "A", Addr: "hA"}})
	c.SetShard("B", []fanout.Target{{ShardID: "B", Addr: "hB"}})
	c.SetShard("C", []fanout.Target{{ShardID: "C", Addr: "hC"}})

	merger := &countingMerger{}
	local := func() ([]byte, error) { return nil, nil }

	_, err := c.Dispatch(context.Background(), 30*time.Millisecond, merger, local)
	assert.Error(t, err)

	merger.mu.Lock()
	defer merger.mu.Unlock()
	assert.NotContains(t, merger.seen, "B")
}

func TestConcatLimitMergerConcatenatesEveryReplyLengthPrefixed(t *testing.T) {
	m := fanout.NewConcatLimitMerger(0)
	require.NoError(t, m.Merge(fanout.Target{ShardID: "a"}, []byte("AA")))
	require.NoError(t, m.Merge(fanout.Target{ShardID: "b"}, []byte("B")))

	final := m.Final()
	assert.Equal(t, []byte{2, 'A', 'A', 1, 'B'}, final)
}

func TestConcatLimitMergerCapsItemCount(t *testing.T) {
	m := fanout.NewConcatLimitMerger(1)
	require.NoError(t, m.Merge(fanout.Target{ShardID: "a"}, []byte("AA")))
	require.NoError(t, m.Merge(fanout.Target{ShardID: "b"}, []byte("B")))

	final := m.Final()
	assert.Equal(t, []byte{2, 'A', 'A'}, final)
}

func TestDispatchWithConcatLimitMergerEndToEnd(t *testing.T) {
	tr := &fakeTransport{}
	c := fanout.New(tr, fanout.Target{ShardID: "local", Addr: "self"}, 1)
	c.SetShard("s1", []fanout.Target{{ShardID: "s1", Addr: "h1"}})
	c.SetShard("s2", []fanout.Target{{ShardID: "s2", Addr: "h2"}})

	merger := fanout.NewConcatLimitMerger(2)
	local := func() ([]byte, error) { return []byte("loc"), nil }

	final, err := c.Dispatch(context.Background(), time.Second, merger, local)
	require.NoError(t, err)

	items := decodeLengthPrefixedItems(t, final)
	// Three replies arrive (local + two shards), but the limit keeps
	// only the first two to respond; which two is a race, but the count
	// and set membership are not.
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.Contains(t, []string{"loc", "s1", "s2"}, it)
	}
}

// decodeLengthPrefixedItems parses the uvarint-length-prefixed frames
// ConcatLimitMerger.Final produces.
func decodeLengthPrefixedItems(t *testing.T, b []byte) []string {
	t.Helper()
	r := bytes.NewReader(b)
	var out []string
	for r.Len() > 0 {
		n, err := binary.ReadUvarint(r)
		require.NoError(t, err)
		buf := make([]byte, n)
		_, err = r.Read(buf)
		require.NoError(t, err)
		out = append(out, string(buf))
	}
	return out
}

func TestDispatchPartialFailureStillMergesSurvivors(t *testing.T) {
	tr := &fakeTransport{err: map[string]error{"s1": context.DeadlineExceeded}}
	c := fanout.New(tr, fanout.Target{ShardID: "local", Addr: "self"}, 1)
	c.SetShard("s1", []fanout.Target{{ShardID: "s1", Addr: "h1"}})
	c.SetShard("s2", []fanout.Target{{ShardID: "s2", Addr: "h2"}})

	merger := &countingMerger{}
	local := func() ([]byte, error) { return []byte("local"), nil }

	_, err := c.Dispatch(context.Background(), time.Second, merger, local)
	assert.NoError(t, err)

	merger.mu.Lock()
	defer merger.mu.Unlock()
	assert.Len(t, merger.seen, 2)
	assert.Contains(t, merger.seen, "local")
	assert.Contains(t, merger.seen, "s2")
}
