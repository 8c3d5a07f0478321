package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

const minReplayTTL = time.Minute

// ReplayGuard remembers callback token ids until they expire.
type ReplayGuard interface {
	// FirstUse reports whether id has not been seen before.
	FirstUse(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg common.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

type RedisReplayGuard struct {
	client redis.Cmdable
	prefix string
}

func NewRedisReplayGuard(client redis.Cmdable, prefix string) *RedisReplayGuard {
	if prefix == "" {
		prefix = "planning:callback:"
	}
	return &RedisReplayGuard{client: client, prefix: prefix}
}

func (g *RedisReplayGuard) FirstUse(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl < minReplayTTL {
		ttl = minReplayTTL
	}
	ok, err := g.client.SetNX(ctx, g.prefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// MemoryReplayGuard is the single-process guard used when Redis is not configured.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryReplayGuard) FirstUse(_ context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl < minReplayTTL {
		ttl = minReplayTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[id]; ok {
		return false, nil
	}
	g.seen[id] = now.Add(ttl)
	return true, nil
}
