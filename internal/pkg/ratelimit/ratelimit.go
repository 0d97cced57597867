package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketLua 原子地完成补充令牌与扣减。
// KEYS[1] = bucket key
// ARGV = rate(token/s), burst, now(ms), requested
// 返回 {allowed, wait_ms, tokens}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tostring(tokens)}
`

const defaultKeyPrefix = "taskmanager:ratelimit:"

// RateLimiter 是基于 Redis 的分布式令牌桶，每个 key 一个桶。
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	now    func() time.Time
	script *redis.Script
}

// NewRedisRateLimiter 创建限流器。rate <= 0 或 burst <= 0 表示不限流。
func NewRedisRateLimiter(rdb *redis.Client, prefix string, rate float64, burst float64) *RateLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RateLimiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		now:    time.Now,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Enabled 报告限流是否生效。
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.rdb != nil && r.rate > 0 && r.burst > 0
}

// Allow 尝试从 key 对应的桶中取一个令牌，不阻塞。
//
// 被拒绝时返回建议的重试等待时间。
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if !r.Enabled() {
		return true, 0, nil
	}
	now := r.now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.prefix + key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}

	allowed := toInt64(values[0]) == 1
	wait := time.Duration(toInt64(values[1])) * time.Millisecond
	return allowed, wait, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
