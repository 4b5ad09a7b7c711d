// Package cache implements a shared negative-lookup cache layered in
// front of the local packed store. internal/store's bloom filter already
// short-circuits negative lookups within one process (spec §4.1); when
// several Sequoia instances cooperate over a shared Redis, this package
// lets them skip redundant delta-engine work for a content hash another
// instance has already confirmed present, without making the store itself
// depend on the network (spec §4.1 DESIGN note: "wired at a higher layer
// as an optional shared negative-lookup cache in front of this package").
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sequoia/internal/hashid"
	"github.com/prn-tf/sequoia/internal/sequoiaerr"
)

const keyPrefix = "sequoia:known:"

// Config addresses the shared Redis instance cooperating Sequoia
// instances point at (spec §5: any network activity outside the
// pluggable transport is an ambient concern, not a core one).
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect dials addr and verifies connectivity, mirroring the teacher's
// redis.NewClient's ping-on-construct pattern.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, sequoiaerr.BackendIO("connect to negative-cache redis", err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("connected to negative-cache redis")
	return client, nil
}

// KnownCache remembers which content hashes this cooperating fleet has
// already persisted, so a second ingest session for the same hash can
// skip straight to the dedup path instead of recompressing and
// re-aligning a sequence another instance already stored.
type KnownCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing Redis client. ttl bounds how long a hash is
// remembered; a cache entry expiring early only costs a redundant
// store.Put dedup check, never a correctness issue, since the local store
// is always the source of truth.
func New(client *redis.Client, ttl time.Duration) *KnownCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &KnownCache{client: client, ttl: ttl}
}

// Knows reports whether hash was previously marked known by this or any
// cooperating instance.
func (c *KnownCache) Knows(ctx context.Context, hash hashid.Hash) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+hash.String()).Result()
	if err != nil {
		return false, sequoiaerr.BackendIO("negative cache exists", err)
	}
	return n > 0, nil
}

// Remember marks hash as known, to be consulted by Knows across the fleet.
func (c *KnownCache) Remember(ctx context.Context, hash hashid.Hash) error {
	if err := c.client.Set(ctx, keyPrefix+hash.String(), 1, c.ttl).Err(); err != nil {
		return sequoiaerr.BackendIO("negative cache remember", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (c *KnownCache) Close() error { return c.client.Close() }
