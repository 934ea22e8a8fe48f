// Package cmn provides the engine-wide configuration used across every
// tsengine component. The duplicate and rounding policy enums live in the
// dup and rounding packages.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// Validator is implemented by every nested *Conf so Config.Validate
	// can walk them generically, same interface shape as the teacher's
	// cmn.Validator.
	Validator interface {
		Validate() error
	}

	// ChunkConf covers spec §6 chunk_size_bytes/chunk_compression.
	ChunkConf struct {
		SizeBytes   int64  `json:"chunk_size_bytes"`
		Compression string `json:"chunk_compression"` // "Uncompressed" | "Compressed"
	}

	// DuplicateConf is the series-level default duplicate policy
	// (spec §3 sample_duplicates, §6 duplicate_policy).
	DuplicateConf struct {
		Policy       string `json:"duplicate_policy"` // Block|First|Last|Min|Max|Sum
		MaxTimeDelta int64  `json:"max_time_delta_ms"`
		MaxValueDiff float64 `json:"max_value_delta"`
	}

	// FanoutConf covers spec §6 fanout_command_timeout_ms.
	FanoutConf struct {
		CommandTimeout Duration `json:"fanout_command_timeout_ms"`
	}

	// CompactionConf covers spec §6 compaction_policy_config: a string of
	// "agg:bucket:retention[:align]|regex_filter" entries separated by ';'.
	CompactionConf struct {
		PolicyConfig string `json:"compaction_policy_config"`
	}

	Config struct {
		Chunk      ChunkConf      `json:"chunk"`
		Duplicate  DuplicateConf  `json:"duplicate"`
		Retention  Duration       `json:"retention_ms"`
		Fanout     FanoutConf     `json:"fanout"`
		Compaction CompactionConf `json:"compaction"`
	}

	// Duration (de)serializes as milliseconds, same role as the teacher's
	// cos.Duration wrapper around time.Duration for JSON round-tripping.
	Duration time.Duration
)

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

func DefaultConfig() *Config {
	return &Config{
		Chunk: ChunkConf{
			SizeBytes:   4096,
			Compression: "Compressed",
		},
		Duplicate: DuplicateConf{
			Policy:       "Block",
			MaxTimeDelta: 0,
			MaxValueDiff: 0,
		},
		Retention: 0,
		Fanout: FanoutConf{
			CommandTimeout: Duration(5000 * time.Millisecond),
		},
		Compaction: CompactionConf{},
	}
}

func (c *Config) Validate() error {
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if err := c.Duplicate.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *ChunkConf) Validate() error {
	if c.SizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive, got %d", c.SizeBytes)
	}
	switch c.Compression {
	case "Uncompressed", "Compressed":
	default:
		return fmt.Errorf("invalid chunk_compression %q", c.Compression)
	}
	return nil
}

func (c *DuplicateConf) Validate() error {
	switch c.Policy {
	case "Block", "First", "Last", "Min", "Max", "Sum":
	default:
		return fmt.Errorf("invalid duplicate_policy %q", c.Policy)
	}
	return nil
}

var (
	_ Validator = (*ChunkConf)(nil)
	_ Validator = (*DuplicateConf)(nil)
	_ Validator = (*Config)(nil)
)

///////////////////////
// globalConfigOwner //
///////////////////////

// GCO (Global Config Owner) owns the process-wide *Config the same way
// the teacher's cmn.GCO does: BeginUpdate/CommitUpdate is a
// copy-on-write transaction bracketed by a mutex, Get is a lock-free read.
type globalConfigOwner struct {
	mtx sync.Mutex
	val sync.Map // single key 0 -> *Config, avoids unsafe.Pointer plumbing
}

var GCO = &globalConfigOwner{}

func init() {
	GCO.val.Store(0, DefaultConfig())
}

func (gco *globalConfigOwner) Get() *Config {
	v, _ := gco.val.Load(0)
	return v.(*Config)
}

func (gco *globalConfigOwner) Put(c *Config) { gco.val.Store(0, c) }

func (gco *globalConfigOwner) Clone() *Config {
	cp := *gco.Get()
	return &cp
}

// BeginUpdate must be followed by CommitUpdate or DiscardUpdate.
func (gco *globalConfigOwner) BeginUpdate() *Config {
	gco.mtx.Lock()
	return gco.Clone()
}

func (gco *globalConfigOwner) CommitUpdate(c *Config) {
	gco.Put(c)
	gco.mtx.Unlock()
	glog.Infof("config updated: chunk_compression=%s duplicate_policy=%s retention_ms=%d",
		c.Chunk.Compression, c.Duplicate.Policy, time.Duration(c.Retention).Milliseconds())
}

func (gco *globalConfigOwner) DiscardUpdate() { gco.mtx.Unlock() }
