package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmanager/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL 是未指定 TTL 时使用的过期时间。
const DefaultTTL = 60 * time.Second

const taskListKeyPrefix = "tasks:user:"

// TaskListKey 返回某个用户任务列表的缓存 key。
func TaskListKey(ownerID uint) string {
	return fmt.Sprintf("%s%d", taskListKeyPrefix, ownerID)
}

// Cache 是基于 Redis 的 JSON 键值缓存。
//
// 过期完全交给 Redis 处理；过期、未设置和已删除对调用方来说都是 miss。
type Cache struct {
	rdb        *redis.Client
	defaultTTL time.Duration
}

// New 创建缓存。defaultTTL <= 0 时使用 DefaultTTL。
func New(rdb *redis.Client, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{rdb: rdb, defaultTTL: defaultTTL}
}

// Get 读取 key 并反序列化到 dest。未命中返回 (false, nil)。
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return true, nil
}

// Set 序列化 value 并写入，ttl <= 0 时使用默认 TTL。
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

// Delete 删除 key，key 不存在不是错误。
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Ping 检查 Redis 连通性。
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
