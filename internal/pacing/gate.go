package pacing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campaign-dialer/pkg/utils"
)

// SlotGate is the per-campaign counting semaphore sized to max_concurrent.
// TryAcquire never blocks: a full gate means the tick is skipped.
type SlotGate interface {
	TryAcquire(ctx context.Context, campaignID string, limit int) (bool, error)
	Release(ctx context.Context, campaignID string) error
	InUse(ctx context.Context, campaignID string) (int, error)
}

// MemoryGate is a process-local SlotGate.
type MemoryGate struct {
	mu   sync.Mutex
	used map[string]int
}

func NewMemoryGate() *MemoryGate { return &MemoryGate{used: map[string]int{}} }

func (g *MemoryGate) TryAcquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used[campaignID] >= limit {
		return false, nil
	}
	g.used[campaignID]++
	return true, nil
}

func (g *MemoryGate) Release(ctx context.Context, campaignID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used[campaignID] <= 1 {
		delete(g.used, campaignID)
		return nil
	}
	g.used[campaignID]--
	return nil
}

func (g *MemoryGate) InUse(ctx context.Context, campaignID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used[campaignID], nil
}

// RedisGate shares slots across dialer processes. Slot counters carry a TTL so
// a crashed process cannot leak capacity forever; the TTL must outlive the longest call.
type RedisGate struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGate(rdb *redis.Client, prefix string, ttl time.Duration) *RedisGate {
	if prefix == "" {
		prefix = "dialer"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisGate{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (g *RedisGate) key(campaignID string) string {
	return g.prefix + ":slots:" + campaignID
}

func (g *RedisGate) TryAcquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, g.key(campaignID), limit, g.ttl)
}

func (g *RedisGate) Release(ctx context.Context, campaignID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, g.key(campaignID))
}

func (g *RedisGate) InUse(ctx context.Context, campaignID string) (int, error) {
	return utils.ConcurrencyInUse(ctx, g.rdb, g.key(campaignID))
}
