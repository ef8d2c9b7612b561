package ratelimit

import (
	"context"
	"fmt"
	"mockhttp/pkg/models"
	"mockhttp/pkg/utils/logger"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DEFAULT_REDIS_NAMESPACE = "mockhttp:ratelimit:"

// tokenBucketScript refills and consumes atomically so several mock servers can
// share one throttle budget.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local max_tokens = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(state[1]) or max_tokens
	local last_refill = tonumber(state[2]) or now

	local tokens_to_add = math.floor((now - last_refill) * refill_rate)
	if tokens_to_add > 0 then
		tokens = math.min(tokens + tokens_to_add, max_tokens)
		last_refill = now
	end

	local allowed = 0
	if tokens > 0 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
	redis.call('EXPIRE', key, window * 2)

	local seconds_to_reset = 0
	local tokens_needed = max_tokens - tokens
	if tokens_needed > 0 and refill_rate > 0 then
		seconds_to_reset = math.ceil(tokens_needed / refill_rate)
	end

	return {allowed, tokens, now + seconds_to_reset}
`)

// RedisRateLimiter implements distributed rate limiting using Redis
type RedisRateLimiter struct {
	client    *redis.Client
	namespace string
	maxTokens int64
	window    time.Duration
	timeout   time.Duration
	failOpen  bool
	logger    *logger.Logger
}

func NewRedisRateLimiter(config *models.RedisConfig, maxRequests int64, window time.Duration, log *logger.Logger) *RedisRateLimiter {
	if log == nil {
		log = logger.Nop()
	}

	db := 0
	if config.DB != nil {
		db = *config.DB
	}

	namespace := config.KeyNamespace
	if namespace == "" {
		namespace = DEFAULT_REDIS_NAMESPACE
	} else if namespace[len(namespace)-1] != ':' {
		namespace += ":"
	}

	failOpen := true
	if config.FailOpen != nil {
		failOpen = *config.FailOpen
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	return &RedisRateLimiter{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Address,
			Password: config.Password,
			DB:       db,
		}),
		namespace: namespace,
		maxTokens: maxRequests,
		window:    window,
		timeout:   timeout,
		failOpen:  failOpen,
		logger:    log,
	}
}

func (r *RedisRateLimiter) Allow(key string) (bool, int64, time.Time) {
	return r.AllowWithLimit(key, r.maxTokens, r.window)
}

func (r *RedisRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	now := time.Now()
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		return false, 0, now.Add(window)
	}

	rate := float64(limit) / window.Seconds()
	if rate < 0.01 {
		rate = 0.01
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	result, err := tokenBucketScript.Run(ctx, r.client, []string{r.key(key)},
		limit,
		rate,
		now.Unix(),
		int64(window.Seconds()),
	).Result()
	if err != nil {
		r.logger.Error(fmt.Sprintf("Redis rate limiter error for key %s: %v", key, err))
		return r.failure(limit, now, window)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		r.logger.Error(fmt.Sprintf("Unexpected redis rate limiter reply %T", result))
		return r.failure(limit, now, window)
	}

	allowed, ok1 := safeConvertToBool(values[0])
	remaining, ok2 := safeConvertToInt64(values[1])
	reset, ok3 := safeConvertToInt64(values[2])
	if !ok1 || !ok2 || !ok3 {
		r.logger.Error("Malformed redis rate limiter reply")
		return r.failure(limit, now, window)
	}

	return allowed, remaining, time.Unix(reset, 0)
}

func (r *RedisRateLimiter) failure(limit int64, now time.Time, window time.Duration) (bool, int64, time.Time) {
	if r.failOpen {
		return true, limit, now.Add(window)
	}
	return false, 0, now.Add(window)
}

func (r *RedisRateLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn(fmt.Sprintf("Failed to reset rate limit for key %s: %v", key, err))
	}
}

func (r *RedisRateLimiter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisRateLimiter) key(k string) string {
	return r.namespace + k
}

func safeConvertToInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func safeConvertToBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	case []byte:
		parsed, err := strconv.ParseBool(string(b))
		return parsed, err == nil
	default:
		if n, ok := safeConvertToInt64(v); ok {
			return n == 1, true
		}
		return false, false
	}
}
