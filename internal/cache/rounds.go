// Package cache provides an advisory TTL cache for operator-facing round
// reads. It is never consulted for stage decisions; the database row is the
// only truth the orchestrator acts on.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RoundCache caches round snapshots in redis. Every method degrades to a
// no-op on transport errors; a cache problem must never fail a read.
type RoundCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	enabled bool
	log     *logger.Logger
}

// NewRoundCache creates the cache. Returns a disabled cache when the
// feature is off.
func NewRoundCache(rdb *redis.Client, cfg config.CacheConfig, log *logger.Logger) *RoundCache {
	return &RoundCache{
		rdb:     rdb,
		ttl:     cfg.GetCacheTTL(),
		enabled: cfg.IsCacheEnabled() && rdb != nil,
		log:     log,
	}
}

func key(id uuid.UUID) string {
	return "round:snapshot:" + id.String()
}

// Get returns the cached snapshot, if any.
func (c *RoundCache) Get(ctx context.Context, id uuid.UUID) (domain.Round, bool) {
	if c == nil || !c.enabled {
		return domain.Round{}, false
	}

	data, err := c.rdb.Get(ctx, key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("round cache read failed", "round_id", id, "error", err)
		}
		return domain.Round{}, false
	}

	var round domain.Round
	if err := json.Unmarshal(data, &round); err != nil {
		c.log.Warn("round cache entry corrupt", "round_id", id, "error", err)
		return domain.Round{}, false
	}
	return round, true
}

// Set stores a snapshot for the configured TTL.
func (c *RoundCache) Set(ctx context.Context, round domain.Round) {
	if c == nil || !c.enabled {
		return
	}

	data, err := json.Marshal(round)
	if err != nil {
		c.log.Warn("round cache encode failed", "round_id", round.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key(round.ID), data, c.ttl).Err(); err != nil {
		c.log.Warn("round cache write failed", "round_id", round.ID, "error", err)
	}
}

// Invalidate drops the snapshot after a mutation.
func (c *RoundCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if c == nil || !c.enabled {
		return
	}
	if err := c.rdb.Del(ctx, key(id)).Err(); err != nil {
		c.log.Warn("round cache invalidate failed", "round_id", id, "error", err)
	}
}
