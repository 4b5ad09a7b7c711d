// Package config decodes Sequoia's tunables from the environment or a
// config file via viper, mirroring the teacher's config.RedisConfig /
// config.Config structs threaded into cache.NewClient and
// filesystem.NewStorage.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig tunes the packed sequence store (spec §3 PackFile, §4.1).
type StoreConfig struct {
	// DataDir is the root directory for packs/ index/ chunks/ manifests/
	// versions/ (spec §6 on-disk layout).
	DataDir string `mapstructure:"data_dir"`

	// PackTargetBytes is the uncompressed byte budget before a pack is
	// sealed (default 64 MiB).
	PackTargetBytes int64 `mapstructure:"pack_target_bytes"`

	// PackCacheSize bounds the number of open pack file descriptors kept
	// in the LRU (spec §4.1 "LRU cache of recently opened packs").
	PackCacheSize int `mapstructure:"pack_cache_size"`

	// IndexSnapshotInterval is how often the in-memory index is snapshotted
	// to disk in addition to on clean shutdown.
	IndexSnapshotInterval time.Duration `mapstructure:"index_snapshot_interval"`

	// BloomFalsePositiveRate tunes the PackIndex's negative-lookup filter.
	BloomFalsePositiveRate float64 `mapstructure:"bloom_false_positive_rate"`

	// CompressionLevel selects the codec tradeoff (0=fastest .. 3=best).
	CompressionLevel int `mapstructure:"compression_level"`
}

// ChunkerConfig tunes the taxonomy-aware chunker (spec §4.2).
type ChunkerConfig struct {
	TargetMaxBytes int64 `mapstructure:"target_max_bytes"`
	TargetMinBytes int64 `mapstructure:"target_min_bytes"`
}

// DeltaConfig tunes the delta engine (spec §4.3).
type DeltaConfig struct {
	RefRatio           float64 `mapstructure:"ref_ratio"`
	DeltaGainThreshold float64 `mapstructure:"delta_gain_threshold"`
}

// Config aggregates every tunable. Zero value is invalid; use Default()
// then apply Options.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Chunker ChunkerConfig `mapstructure:"chunker"`
	Delta   DeltaConfig   `mapstructure:"delta"`
}

// Default returns the spec-documented defaults (64 MiB packs, 10/1 MiB
// chunk bounds, 0.3 ref ratio, 0.8 delta gain threshold).
func Default(dataDir string) Config {
	return Config{
		Store: StoreConfig{
			DataDir:                dataDir,
			PackTargetBytes:        64 << 20,
			PackCacheSize:          256,
			IndexSnapshotInterval:  5 * time.Minute,
			BloomFalsePositiveRate: 0.01,
			CompressionLevel:       1,
		},
		Chunker: ChunkerConfig{
			TargetMaxBytes: 10 << 20,
			TargetMinBytes: 1 << 20,
		},
		Delta: DeltaConfig{
			RefRatio:           0.3,
			DeltaGainThreshold: 0.8,
		},
	}
}

// Option mutates a Config at construction time, following the functional
// options idiom layered over the teacher's struct-literal Config inputs.
type Option func(*Config)

// WithPackTargetBytes overrides the pack byte budget.
func WithPackTargetBytes(n int64) Option {
	return func(c *Config) { c.Store.PackTargetBytes = n }
}

// WithChunkBounds overrides the chunker's min/max byte bounds.
func WithChunkBounds(min, max int64) Option {
	return func(c *Config) { c.Chunker.TargetMinBytes = min; c.Chunker.TargetMaxBytes = max }
}

// WithRefRatio overrides the delta engine's reference-selection fraction.
func WithRefRatio(r float64) Option {
	return func(c *Config) { c.Delta.RefRatio = r }
}

// WithDeltaGainThreshold overrides the maximum fraction of the target's
// byte size a delta's ops may occupy and still be kept instead of falling
// back to a direct ref.
func WithDeltaGainThreshold(r float64) Option {
	return func(c *Config) { c.Delta.DeltaGainThreshold = r }
}

// Apply runs opts over cfg in order.
func Apply(cfg Config, opts ...Option) Config {
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Load reads configuration from the given file path (if non-empty) and the
// SEQUOIA_-prefixed environment, layered over Default(dataDir), the same
// viper.New/SetEnvPrefix/AutomaticEnv sequence the teacher's server
// bootstrap uses for its Redis/Postgres config blocks.
func Load(dataDir, path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEQUOIA")
	v.AutomaticEnv()

	cfg := Default(dataDir)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("config: unmarshal: %w", err)
		}
	}
	return cfg, nil
}
