// Package config parses the engine's recognized options (spec §6). Loading
// the underlying file and wiring it into a CLI remains the job of an
// external collaborator; this package only owns the Config struct, its
// defaults, and validation, the same way the teacher's server/conf package
// owned Cfg for the my.ini-style server config.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// IsolationLevel mirrors txn.IsolationLevel without importing it, so this
// package has no dependency on the txn package.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "RU"
	ReadCommitted   IsolationLevel = "RC"
	RepeatableRead  IsolationLevel = "RR"
	Serializable    IsolationLevel = "SER"
)

// Config holds every option from spec §6's recognized-options table.
type Config struct {
	BufferPoolPages        uint32
	BufferPoolYoungRatio   float64
	OldBlockTimeMS         int64
	WALSegmentBytes        uint64
	WALSyncAfterWrite      bool
	LockWaitTimeoutMS      int64
	DeadlockCheckInterval  time.Duration
	CheckpointIntervalSecs int64
	DefaultIsolationLevel  IsolationLevel
	EnableDoublewrite      bool
	ReadAheadPages         uint32

	DataDir string
	LogDir  string
}

// Default returns the configuration spec §4/§6 describe as defaults.
func Default() *Config {
	return &Config{
		BufferPoolPages:        1024,
		BufferPoolYoungRatio:   0.625,
		OldBlockTimeMS:         1000,
		WALSegmentBytes:        16 << 20,
		WALSyncAfterWrite:      false,
		LockWaitTimeoutMS:      5000,
		DeadlockCheckInterval:  time.Second,
		CheckpointIntervalSecs: 300,
		DefaultIsolationLevel:  RepeatableRead,
		EnableDoublewrite:      false,
		ReadAheadPages:         32,
		DataDir:                ".",
		LogDir:                 ".",
	}
}

// Load reads an INI file at path and overlays it on Default().
func Load(path string) (*Config, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return FromINI(raw)
}

// FromINI overlays the [engine] section of an already-parsed ini.File on
// Default(), then validates the result.
func FromINI(raw *ini.File) (*Config, error) {
	cfg := Default()
	sec := raw.Section("engine")

	if v := sec.Key("buffer_pool_pages"); v.String() != "" {
		n, err := v.Uint()
		if err != nil {
			return nil, fmt.Errorf("config: buffer_pool_pages: %w", err)
		}
		cfg.BufferPoolPages = uint32(n)
	}
	if v := sec.Key("buffer_pool_young_ratio"); v.String() != "" {
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("config: buffer_pool_young_ratio: %w", err)
		}
		cfg.BufferPoolYoungRatio = f
	}
	if v := sec.Key("old_block_time_ms"); v.String() != "" {
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("config: old_block_time_ms: %w", err)
		}
		cfg.OldBlockTimeMS = n
	}
	if v := sec.Key("wal_segment_bytes"); v.String() != "" {
		n, err := v.Uint64()
		if err != nil {
			return nil, fmt.Errorf("config: wal_segment_bytes: %w", err)
		}
		cfg.WALSegmentBytes = n
	}
	if v := sec.Key("wal_sync_after_write"); v.String() != "" {
		cfg.WALSyncAfterWrite = v.MustBool(cfg.WALSyncAfterWrite)
	}
	if v := sec.Key("lock_wait_timeout_ms"); v.String() != "" {
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("config: lock_wait_timeout_ms: %w", err)
		}
		cfg.LockWaitTimeoutMS = n
	}
	if v := sec.Key("deadlock_check_interval_ms"); v.String() != "" {
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("config: deadlock_check_interval_ms: %w", err)
		}
		cfg.DeadlockCheckInterval = time.Duration(n) * time.Millisecond
	}
	if v := sec.Key("checkpoint_interval_seconds"); v.String() != "" {
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("config: checkpoint_interval_seconds: %w", err)
		}
		cfg.CheckpointIntervalSecs = n
	}
	if v := sec.Key("default_isolation_level"); v.String() != "" {
		cfg.DefaultIsolationLevel = IsolationLevel(v.String())
	}
	if v := sec.Key("enable_doublewrite"); v.String() != "" {
		cfg.EnableDoublewrite = v.MustBool(cfg.EnableDoublewrite)
	}
	if v := sec.Key("read_ahead_pages"); v.String() != "" {
		n, err := v.Uint()
		if err != nil {
			return nil, fmt.Errorf("config: read_ahead_pages: %w", err)
		}
		cfg.ReadAheadPages = uint32(n)
	}
	if v := sec.Key("data_dir"); v.String() != "" {
		cfg.DataDir = v.String()
	}
	if v := sec.Key("log_dir"); v.String() != "" {
		cfg.LogDir = v.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values rather than silently clamping them.
func (c *Config) Validate() error {
	if c.BufferPoolPages < 16 {
		return fmt.Errorf("config: buffer_pool_pages must be >= 16, got %d", c.BufferPoolPages)
	}
	if c.BufferPoolYoungRatio < 0.1 || c.BufferPoolYoungRatio > 0.9 {
		return fmt.Errorf("config: buffer_pool_young_ratio must be in [0.1, 0.9], got %f", c.BufferPoolYoungRatio)
	}
	if c.WALSegmentBytes < 1<<20 {
		return fmt.Errorf("config: wal_segment_bytes must be >= 1MiB, got %d", c.WALSegmentBytes)
	}
	if c.CheckpointIntervalSecs < 10 {
		return fmt.Errorf("config: checkpoint_interval_seconds must be >= 10, got %d", c.CheckpointIntervalSecs)
	}
	switch c.DefaultIsolationLevel {
	case ReadUncommitted, ReadCommitted, RepeatableRead, Serializable:
	default:
		return fmt.Errorf("config: default_isolation_level must be one of RU,RC,RR,SER, got %q", c.DefaultIsolationLevel)
	}
	return nil
}
