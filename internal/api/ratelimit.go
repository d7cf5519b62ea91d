package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rongwang/sitetrack-server/internal/config"
	"github.com/rongwang/sitetrack-server/internal/utils"
)

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// NewTokenBucket limits requests per client IP and route with a token
// bucket kept in Redis. Without Redis, or when disabled, it lets every
// request through; a Redis error also fails open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *utils.Logger) gin.HandlerFunc {
	if !cfg.Enabled || rdb == nil {
		return func(c *gin.Context) { c.Next() }
	}

	capacity := max(cfg.Capacity, 1)
	refill := max(cfg.RefillTokens, 1)
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	ttl := max(cfg.TTL, 5*interval)

	return func(c *gin.Context) {
		key := strings.Join([]string{cfg.Prefix, "ip", c.ClientIP(), "route", c.Request.Method + " " + c.FullPath()}, ":")

		vals, err := tokenBucketScript.Run(c.Request.Context(), rdb, []string{key},
			time.Now().UnixMilli(), capacity, refill, interval.Milliseconds(), int64(ttl/time.Second),
		).Int64Slice()
		if err != nil || len(vals) != 3 {
			log.Warn("rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]
		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			secs := int(math.Ceil(float64(retryMs) / 1000.0))
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWithError(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}
