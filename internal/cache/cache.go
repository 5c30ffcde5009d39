package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"coffee-location-dedup/pkg/metrics"
)

// Cache fronts the report store so repeat report reads skip MySQL.
type Cache struct{ c *redis.Client }

func New(addr, pass string, db int) *Cache {
	return &Cache{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})}
}

// ReportKey addresses one run's assembled report.
func ReportKey(runID string) string { return "report:" + runID }

// LatestReportKey addresses the most recent completed report.
const LatestReportKey = "report:latest"

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.ObserveCache("redis", "hit")
	return true, json.Unmarshal(v, dst)
}

func (r *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	metrics.ObserveCache("redis", "set")
	return r.c.Set(ctx, key, b, ttl).Err()
}

func (r *Cache) Del(ctx context.Context, key string) error {
	metrics.ObserveCache("redis", "del")
	return r.c.Del(ctx, key).Err()
}

// Ping reports whether the cache is reachable; used by health checks.
func (r *Cache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Cache) Close() error { return r.c.Close() }
