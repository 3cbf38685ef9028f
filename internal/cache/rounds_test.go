package cache

import (
	"context"
	"testing"
	"time"

	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type cacheConfig struct {
	enabled bool
	ttl     time.Duration
}

func (c cacheConfig) GetRedisURL() string        { return "" }
func (c cacheConfig) GetCacheTTL() time.Duration { return c.ttl }
func (c cacheConfig) IsCacheEnabled() bool       { return c.enabled }

func newTestCache(t *testing.T, enabled bool) (*RoundCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRoundCache(rdb, cacheConfig{enabled: enabled, ttl: 30 * time.Second}, logger.New("test")), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, true)
	round := domain.Round{ID: uuid.New(), CampaignName: "autumn-drive", State: domain.StateReady}

	c.Set(context.Background(), round)

	got, ok := c.Get(context.Background(), round.ID)
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got.CampaignName != "autumn-drive" || got.State != domain.StateReady {
		t.Errorf("got = %+v, want cached snapshot", got)
	}
}

func TestEntryExpires(t *testing.T) {
	c, mr := newTestCache(t, true)
	round := domain.Round{ID: uuid.New()}

	c.Set(context.Background(), round)
	mr.FastForward(31 * time.Second)

	if _, ok := c.Get(context.Background(), round.ID); ok {
		t.Error("Get() hit after TTL, want miss")
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	c, _ := newTestCache(t, true)
	round := domain.Round{ID: uuid.New()}

	c.Set(context.Background(), round)
	c.Invalidate(context.Background(), round.ID)

	if _, ok := c.Get(context.Background(), round.ID); ok {
		t.Error("Get() hit after invalidate, want miss")
	}
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	c, _ := newTestCache(t, false)
	round := domain.Round{ID: uuid.New()}

	c.Set(context.Background(), round)

	if _, ok := c.Get(context.Background(), round.ID); ok {
		t.Error("Get() hit on disabled cache, want miss")
	}
}
