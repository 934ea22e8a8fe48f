// Package cos provides low-level, dependency-thin utilities shared by
// every tsengine package: ID generation and varint helpers. Mirrors the teacher's cmn/cos split of "common os/system
// helpers" out of the main cmn package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"

	"github.com/teris-io/shortid"
)

var (
	sidMu sync.Mutex
	sid   *shortid.Shortid
)

// InitShortID (re)initializes the process-wide short-id generator. Safe
// to call once at startup; subsequent calls reseed it (used by tests that
// want deterministic IDs across runs).
func InitShortID(seed uint64) {
	sidMu.Lock()
	defer sidMu.Unlock()
	sid = shortid.MustNew(1, shortid.DefaultABC, seed)
}

// GenID returns a short, human-readable, collision-resistant identifier
// used for compaction rule IDs and rdb temp-file names.
func GenID() string {
	sidMu.Lock()
	s := sid
	sidMu.Unlock()
	if s == nil {
		InitShortID(0)
		sidMu.Lock()
		s = sid
		sidMu.Unlock()
	}
	return s.MustGenerate()
}

func init() { InitShortID(0) }
