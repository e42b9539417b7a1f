// Package config holds the process-scope configuration knobs the design
// names. They are acceptable as mutable globals only until a write
// commits: at that point the active values are captured immutably into a
// revision.Revision, and nothing on the read path may consult this
// package again (design notes §9).
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the process-scope configuration, loaded once at startup from
// a TOML file.
type Config struct {
	// DefaultCubeSize is the per-cube element-count target knob. Nothing in
	// this module reads it: the capacity a write uses is the active
	// Revision's DesiredCubeCapacity.
	DefaultCubeSize uint64 `toml:"default_cube_size"`
	// CubeWeightsBufferCapacity is loaded and defaulted but not read
	// anywhere in this module; the Indexer does not buffer by it.
	CubeWeightsBufferCapacity int `toml:"cube_weights_buffer_capacity"`
	// NumberOfRetries bounds the Committer's conflict-retry loop
	//.
	NumberOfRetries int `toml:"number_of_retries"`
	// MinCompactionFileSizeInBytes and MaxCompactionFileSizeInBytes are
	// loaded and defaulted but not read anywhere in this module; the
	// Analyzer does not filter files by size.
	MinCompactionFileSizeInBytes int64 `toml:"min_compaction_file_size_bytes"`
	MaxCompactionFileSizeInBytes int64 `toml:"max_compaction_file_size_bytes"`
	// CommitRetryBackoff is the ambient pacing between retry attempts;
	// not part of the designs named knobs but needed to implement them
	// without a busy-loop.
	CommitRetryBackoff time.Duration `toml:"commit_retry_backoff"`
	// PartitionConcurrency bounds the panjf2000/ants pool the Committer
	// fans partitions out through.
	PartitionConcurrency int `toml:"partition_concurrency"`
}

// Defaults matches the documented cubeSize default of 5,000,000 plus
// conservative choices for the knobs left otherwise unspecified.
func Defaults() *Config {
	return &Config{
		DefaultCubeSize:              5_000_000,
		CubeWeightsBufferCapacity:    1 << 20,
		NumberOfRetries:              5,
		MinCompactionFileSizeInBytes: 16 << 20,
		MaxCompactionFileSizeInBytes: 512 << 20,
		CommitRetryBackoff:           20 * time.Millisecond,
		PartitionConcurrency:         4,
	}
}

// Load reads path as TOML, starting from Defaults so an incomplete file
// only overrides the knobs it mentions.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
