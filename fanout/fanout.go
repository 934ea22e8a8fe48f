// Package fanout implements the fan-out coordinator (component J):
// scatter/gather across shards with deadline, partial-failure handling,
// and a sharded in-flight request map (spec §3 "Fan-out", §4.J).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fanout

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/vktsdb/tsengine/cmn/cerr"
	"go.uber.org/atomic"
)

// Target is one shard's reachable endpoint.
type Target struct {
	ShardID string
	Addr    string
}

// Transport sends a request frame to a target and returns its raw
// response bytes, or an error on failure/unreachability. The cluster
// wire frame itself lives in the wire package; Transport is the seam the
// coordinator calls through, grounded on the teacher's broadcast-callback
// idiom in `cluster`/`transport`.
type Transport interface {
	Send(ctx context.Context, target Target, payload []byte) ([]byte, error)
}

// Merger accumulates per-target responses into a final result. Merge is
// called once per successful response; the coordinator serializes calls
// to Merge for a given request, so Merger implementations need no
// internal locking.
type Merger interface {
	Merge(target Target, payload []byte) error
	// Final returns the composed reply. Dispatch calls it only once every
	// target has responded; when the deadline fires first, Dispatch
	// returns a Timeout error instead.
	Final() []byte
}

// inflight tracks one outstanding multi-shard request (spec §4.J step 3).
type inflight struct {
	mu          sync.Mutex
	outstanding int
	merger      Merger
	errs        map[string]error
	timedOut    bool
	replied     bool
	done        chan struct{}
}

// Coordinator dispatches selector-scoped commands to every shard owning
// a matching series and gathers responses (spec §4.J).
type Coordinator struct {
	transport Transport
	local     Target

	// shards is the cluster's shard map: ShardID -> candidate replicas
	// (primary, falling back to a random replica when the primary is
	// unreachable), adapted from the teacher's cluster.Smap node map
	// (see shardmap.go).
	shards *ShardMap

	// inFlight is sharded by request ID to reduce lock contention,
	// grounded on the teacher's Snode-sharding idiom in `cluster`.
	inFlight []shardedInflight

	// reqCounter is seeded by nodeID << 48 so request IDs of different
	// nodes do not collide until the low 48 bits wrap. A new Coordinator
	// for the same nodeID starts again from the same seed (spec §4.J
	// "Back-pressure").
	reqCounter atomic.Uint64
}

const inflightShards = 16

type shardedInflight struct {
	mu sync.Mutex
	m  map[uint64]*inflight
}

func New(transport Transport, local Target, nodeID uint16) *Coordinator {
	c := &Coordinator{
		transport: transport,
		local:     local,
		shards:    NewShardMap(),
		inFlight:  make([]shardedInflight, inflightShards),
	}
	c.reqCounter.Store(uint64(nodeID) << 48)
	for i := range c.inFlight {
		c.inFlight[i].m = make(map[uint64]*inflight)
	}
	return c
}

// SetShard registers shardID's replica endpoints (first is primary).
func (c *Coordinator) SetShard(shardID string, targets []Target) {
	replicas := make([]*Node, len(targets))
	for i, t := range targets {
		replicas[i] = &Node{ShardID: t.ShardID, Addr: t.Addr}
	}
	c.shards.Set(shardID, replicas)
}

func (c *Coordinator) nextRequestID() uint64 {
	return c.reqCounter.Inc()
}

func (c *Coordinator) shardFor(reqID uint64) *shardedInflight {
	return &c.inFlight[reqID%uint64(inflightShards)]
}

// LocalExecutor runs a selector-scoped command against this shard's own
// data in-process, avoiding a loopback network hop (spec §4.J step 6).
type LocalExecutor func() ([]byte, error)

// Dispatch implements spec §4.J steps 1-6: generate a request ID, frame
// and send to every shard, merge responses as they arrive, and compose
// the final reply once outstanding reaches zero. If the deadline fires
// before that, it returns a Timeout error and no reply.
func (c *Coordinator) Dispatch(ctx context.Context, timeout time.Duration, merger Merger, local LocalExecutor) ([]byte, error) {
	reqID := c.nextRequestID()

	primaries := c.shards.Primaries()
	targets := make([]Target, len(primaries))
	for i, n := range primaries {
		targets[i] = Target{ShardID: n.ShardID, Addr: n.Addr}
	}

	inf := &inflight{
		outstanding: len(targets) + 1, // +1 for local
		merger:      merger,
		errs:        make(map[string]error),
		done:        make(chan struct{}),
	}

	shard := c.shardFor(reqID)
	shard.mu.Lock()
	shard.m[reqID] = inf
	shard.mu.Unlock()
	defer func() {
		shard.mu.Lock()
		delete(shard.m, reqID)
		shard.mu.Unlock()
	}()

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Local shard, in-process.
	go func() {
		payload, err := local()
		c.onResult(inf, c.local, payload, err)
	}()

	for _, t := range targets {
		t := t
		go func() {
			payload, err := c.transport.Send(dctx, t, encodeRequestID(reqID))
			if err != nil && dctx.Err() == nil {
				// Primary unreachable: retry once on a random replica.
				if n, ok := c.shards.RandReplica(t.ShardID); ok && n.Addr != t.Addr {
					payload, err = c.transport.Send(dctx, Target{ShardID: n.ShardID, Addr: n.Addr}, encodeRequestID(reqID))
				}
			}
			c.onResult(inf, t, payload, err)
		}()
	}

	select {
	case <-inf.done:
		return inf.merger.Final(), nil
	case <-dctx.Done():
		inf.mu.Lock()
		inf.timedOut = true
		already := inf.replied
		inf.replied = true
		inf.mu.Unlock()
		if already {
			return inf.merger.Final(), nil
		}
		return nil, cerr.New(cerr.Timeout, "fanout.Dispatch", "deadline exceeded before every shard replied")
	}
}

func encodeRequestID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func (c *Coordinator) onResult(inf *inflight, t Target, payload []byte, err error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if err != nil {
		inf.errs[t.ShardID] = err
	} else if !inf.timedOut {
		// Per spec §4.J step 5: once timed out, later responses are
		// still consumed (outstanding decremented) but their data is
		// discarded.
		_ = inf.merger.Merge(t, payload)
	}

	inf.outstanding--
	if inf.outstanding == 0 && !inf.replied {
		inf.replied = true
		close(inf.done)
	}
}
