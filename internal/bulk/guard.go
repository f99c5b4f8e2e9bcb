package bulk

import (
	"context"
	"strconv"
	"time"

	"outbound-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// InFlightGuard is a cross-process slot held while a campaign has a call outstanding.
// The row lock and ActiveSessionID already serialize one database; the guard also covers
// operators running several API replicas against a shared Redis.
type InFlightGuard interface {
	Acquire(ctx context.Context, bulkID string, index int) (bool, error)
	Release(ctx context.Context, bulkID string, index int) error
}

// NopGuard always grants the slot.
type NopGuard struct{}

func (NopGuard) Acquire(context.Context, string, int) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string, int) error         { return nil }

// RedisGuard stores one slot per campaign, owned by the cursor index being dialed.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, bulkID string, index int) (bool, error) {
	return utils.AcquireSlot(ctx, g.rdb, slotKey(bulkID), strconv.Itoa(index), g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, bulkID string, index int) error {
	return utils.ReleaseSlot(ctx, g.rdb, slotKey(bulkID), strconv.Itoa(index))
}

func slotKey(bulkID string) string {
	return "dialer:bulk:inflight:" + bulkID
}
