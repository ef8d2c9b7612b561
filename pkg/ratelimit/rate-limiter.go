package ratelimit

import (
	"fmt"
	"mockhttp/pkg/models"
	"mockhttp/pkg/utils/logger"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	KEY_TYPE_IP     = "ip"
	KEY_TYPE_HEADER = "header"
)

// IRateLimiter is implemented by every throttling backend.
type IRateLimiter interface {
	Allow(key string) (bool, int64, time.Time)
	AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time)
	Reset(key string)
	Health() error
	Close() error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetTime time.Time
	Limit     int64
	Key       string
}

// SetDefaults fills unset fields of config in place.
func SetDefaults(config *models.RateLimitConfig) {
	if config == nil {
		return
	}

	if config.Requests == nil {
		requests := int64(100)
		config.Requests = &requests
	}
	if config.Window == nil {
		window := time.Minute
		config.Window = &window
	}
	if config.StatusCode == nil {
		statusCode := fasthttp.StatusTooManyRequests
		config.StatusCode = &statusCode
	}
	if config.Storage == "" {
		config.Storage = models.STORAGE_MEMORY
	}
	if len(config.KeyBy) == 0 {
		config.KeyBy = []string{KEY_TYPE_IP}
	}
	if config.Message == "" {
		config.Message = "Rate limit exceeded"
	}
}

// NewRateLimiter builds the configured backend. It returns nil, nil when throttling is disabled.
func NewRateLimiter(config *models.RateLimitConfig, logger *logger.Logger) (IRateLimiter, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	SetDefaults(config)

	switch strings.ToLower(config.Storage) {
	case models.STORAGE_MEMORY:
		return NewMemoryRateLimiter(*config.Requests, *config.Window, logger), nil
	case models.STORAGE_REDIS:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis configuration required for redis rate limiter")
		}
		return NewRedisRateLimiter(config.Redis, *config.Requests, *config.Window, logger), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit storage type: %s", config.Storage)
	}
}

// BuildKey joins the configured key parts. A missing header falls back to the client IP
// so a single absent header never collapses every client onto one bucket.
func BuildKey(ctx *fasthttp.RequestCtx, config *models.RateLimitConfig) string {
	if config == nil || len(config.KeyBy) == 0 {
		return ClientIP(ctx)
	}

	var parts []string
	for _, keyType := range config.KeyBy {
		switch {
		case keyType == KEY_TYPE_IP:
			parts = append(parts, ClientIP(ctx))
		case strings.HasPrefix(keyType, KEY_TYPE_HEADER+":"):
			headerName := strings.TrimPrefix(keyType, KEY_TYPE_HEADER+":")
			if headerValue := string(ctx.Request.Header.Peek(headerName)); headerValue != "" {
				parts = append(parts, headerValue)
			} else {
				parts = append(parts, ClientIP(ctx))
			}
		default:
			parts = append(parts, keyType)
		}
	}

	return strings.Join(parts, ":")
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := string(ctx.Request.Header.Peek("X-Real-IP")); xri != "" {
		return xri
	}

	return ctx.RemoteIP().String()
}
