package pacing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"campaign-dialer/pkg/utils"
)

// RateWindow is a sliding-window admission counter. Allow records member when
// the window has room; Cancel takes a recorded member back out.
type RateWindow interface {
	Allow(ctx context.Context, campaignID, member string, limit int, window time.Duration, now time.Time) (bool, error)
	Cancel(ctx context.Context, campaignID, member string) error
	// Reset empties the window; used when a campaign resumes.
	Reset(ctx context.Context, campaignID string) error
	Count(ctx context.Context, campaignID string, window time.Duration, now time.Time) (int, error)
}

type stamp struct {
	member string
	at     time.Time
}

type MemoryWindow struct {
	mu      sync.Mutex
	entries map[string][]stamp
}

func NewMemoryWindow() *MemoryWindow { return &MemoryWindow{entries: map[string][]stamp{}} }

// prune drops entries at or before now-window. Caller holds the lock.
func (w *MemoryWindow) prune(campaignID string, window time.Duration, now time.Time) []stamp {
	cut := now.Add(-window)
	kept := w.entries[campaignID][:0]
	for _, s := range w.entries[campaignID] {
		if s.at.After(cut) {
			kept = append(kept, s)
		}
	}
	w.entries[campaignID] = kept
	return kept
}

func (w *MemoryWindow) Allow(ctx context.Context, campaignID, member string, limit int, window time.Duration, now time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.prune(campaignID, window, now)) >= limit {
		return false, nil
	}
	w.entries[campaignID] = append(w.entries[campaignID], stamp{member: member, at: now})
	return true, nil
}

func (w *MemoryWindow) Cancel(ctx context.Context, campaignID, member string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	es := w.entries[campaignID]
	for i, s := range es {
		if s.member == member {
			w.entries[campaignID] = append(es[:i], es[i+1:]...)
			break
		}
	}
	return nil
}

func (w *MemoryWindow) Reset(ctx context.Context, campaignID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, campaignID)
	return nil
}

func (w *MemoryWindow) Count(ctx context.Context, campaignID string, window time.Duration, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prune(campaignID, window, now)), nil
}

// RedisWindow keeps the window in a sorted set scored by admission time.
type RedisWindow struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisWindow(rdb *redis.Client, prefix string) *RedisWindow {
	if prefix == "" {
		prefix = "dialer"
	}
	return &RedisWindow{rdb: rdb, prefix: prefix}
}

func (w *RedisWindow) key(campaignID string) string {
	return w.prefix + ":rate:" + campaignID
}

func (w *RedisWindow) Allow(ctx context.Context, campaignID, member string, limit int, window time.Duration, now time.Time) (bool, error) {
	return utils.AllowSlidingWindow(ctx, w.rdb, w.key(campaignID), member, limit, window, now)
}

func (w *RedisWindow) Cancel(ctx context.Context, campaignID, member string) error {
	return utils.CancelSlidingWindow(ctx, w.rdb, w.key(campaignID), member)
}

func (w *RedisWindow) Reset(ctx context.Context, campaignID string) error {
	return w.rdb.Del(ctx, w.key(campaignID)).Err()
}

func (w *RedisWindow) Count(ctx context.Context, campaignID string, window time.Duration, now time.Time) (int, error) {
	from := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	n, err := w.rdb.ZCount(ctx, w.key(campaignID), "("+from, "+inf").Result()
	return int(n), err
}
