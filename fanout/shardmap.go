// Shard membership map for the fan-out coordinator, adapted from the
// teacher's cluster node map (cluster/map.go Smap/Snode/NodeMap): the
// same sharded membership-map idiom, repurposed from proxy/target
// daemons to time-series shard owners, and the same xxhash-based
// per-node digest (Node.Digest); the coordinator does not route by it.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fanout

import (
	"math/rand"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// Node is one shard's replica endpoint.
type Node struct {
	ShardID string
	Addr    string
	digest  uint64
}

// Digest returns the node's stable hash, lazily computed and cached,
// grounded on Snode.Digest's xxhash.ChecksumString64S usage.
func (n *Node) Digest() uint64 {
	if n.digest == 0 {
		n.digest = xxhash.ChecksumString64S(n.ShardID+"|"+n.Addr, mlcgSeed)
	}
	return n.digest
}

// mlcgSeed mirrors the teacher's cmn.MLCG32 constant used to seed every
// node digest so hashes are stable across process restarts.
const mlcgSeed = 0x9e3779b1

// NodeMap groups every replica serving one shard.
type NodeMap map[string][]*Node

// ShardMap is the fan-out coordinator's membership table: ShardID ->
// replica set, adapted from Smap's Pmap/Tmap pair collapsed into a
// single replica-set-per-shard map (this domain has no
// proxy/target distinction).
type ShardMap struct {
	mu     sync.RWMutex
	shards NodeMap
}

func NewShardMap() *ShardMap {
	return &ShardMap{shards: make(NodeMap)}
}

// Set replaces the replica set for shardID.
func (s *ShardMap) Set(shardID string, replicas []*Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[shardID] = replicas
}

// Count returns the number of distinct shards, grounded on Smap.Count.
func (s *ShardMap) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards)
}

// Primary returns shardID's first replica (the master), grounded on
// Smap.GetTarget.
func (s *ShardMap) Primary(shardID string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.shards[shardID]
	if !ok || len(r) == 0 {
		return nil, false
	}
	return r[0], true
}

// RandReplica picks a random non-primary replica for shardID, or the
// primary when it is the only replica, grounded on Smap.GetRandTarget's
// fallback-on-primary-unreachable idiom.
func (s *ShardMap) RandReplica(shardID string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.shards[shardID]
	if !ok || len(r) == 0 {
		return nil, false
	}
	if len(r) == 1 {
		return r[0], true
	}
	return r[1+rand.Intn(len(r)-1)], true
}

// Primaries returns every shard's primary replica, the set Dispatch
// broadcasts a selector-scoped command to.
func (s *ShardMap) Primaries() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.shards))
	for _, r := range s.shards {
		if len(r) > 0 {
			out = append(out, r[0])
		}
	}
	return out
}
