package ratelimitmanager

import (
	"fmt"
	"math"
	"mockhttp/pkg/models"
	"mockhttp/pkg/ratelimit"
	"mockhttp/pkg/utils/logger"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const HEALTH_CHECK_INTERVAL = 30 * time.Second

// RateLimitManager puts one limiter backend in front of the mock routes and
// keeps an eye on its health.
type RateLimitManager struct {
	limiter   ratelimit.IRateLimiter
	config    *models.RateLimitConfig
	logger    *logger.Logger
	stopChan  chan struct{}
	closeOnce sync.Once
}

func NewRateLimitManager(limiter ratelimit.IRateLimiter, config *models.RateLimitConfig, log *logger.Logger) *RateLimitManager {
	if log == nil {
		log = logger.Nop()
	}
	manager := &RateLimitManager{
		limiter:  limiter,
		config:   config,
		logger:   log,
		stopChan: make(chan struct{}),
	}

	manager.startHealthMonitoring(HEALTH_CHECK_INTERVAL)

	return manager
}

func allowAll() *ratelimit.RateLimitResult {
	return &ratelimit.RateLimitResult{Allowed: true, Remaining: -1, Limit: -1}
}

// Check consumes one token for the request's key. Without a limiter or an
// enabled config every request is allowed.
func (rlm *RateLimitManager) Check(ctx *fasthttp.RequestCtx) *ratelimit.RateLimitResult {
	if rlm == nil || rlm.limiter == nil || rlm.config == nil || !rlm.config.Enabled {
		return allowAll()
	}

	key := ratelimit.BuildKey(ctx, rlm.config)
	if key == "" {
		rlm.logger.Warn("Cannot derive rate limit key, allowing request")
		return allowAll()
	}

	allowed, remaining, resetTime := rlm.limiter.AllowWithLimit(key, *rlm.config.Requests, *rlm.config.Window)
	if allowed {
		rlm.logger.Debug(fmt.Sprintf("Rate limit check passed for key '%s': %d/%d remaining", key, remaining, *rlm.config.Requests))
	} else {
		rlm.logger.Warn(fmt.Sprintf("Rate limit exceeded for key '%s', reset at %v", key, resetTime))
	}

	return &ratelimit.RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetTime: resetTime,
		Limit:     *rlm.config.Requests,
		Key:       key,
	}
}

func (rlm *RateLimitManager) SetHeaders(ctx *fasthttp.RequestCtx, result *ratelimit.RateLimitResult) {
	if rlm == nil || result == nil || result.Limit < 0 || rlm.config == nil || rlm.config.Headers == nil {
		return
	}

	headers := rlm.config.Headers
	if headers.IncludeLimit {
		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	}
	if headers.IncludeRemaining {
		ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	}
	if headers.IncludeReset {
		ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	}
}

// Reject writes the throttled response and closes the connection like every
// other mock response.
func (rlm *RateLimitManager) Reject(ctx *fasthttp.RequestCtx, result *ratelimit.RateLimitResult) {
	statusCode := fasthttp.StatusTooManyRequests
	message := "Rate limit exceeded"
	if rlm.config != nil {
		if rlm.config.StatusCode != nil {
			statusCode = *rlm.config.StatusCode
		}
		if rlm.config.Message != "" {
			message = rlm.config.Message
		}
	}

	rlm.SetHeaders(ctx, result)

	secs := max(int(math.Ceil(time.Until(result.ResetTime).Seconds())), 0)
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(secs))

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("text/plain; charset=UTF-8")
	ctx.SetBodyString(message)
	ctx.SetConnectionClose()
}

func (rlm *RateLimitManager) startHealthMonitoring(interval time.Duration) {
	if rlm.limiter == nil {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rlm.performHealthCheck()
			case <-rlm.stopChan:
				return
			}
		}
	}()
}

func (rlm *RateLimitManager) performHealthCheck() {
	if err := rlm.limiter.Health(); err != nil {
		rlm.logger.Error(fmt.Sprintf("Rate limiter health check failed: %v", err))
	}
}

func (rlm *RateLimitManager) Close() error {
	var err error
	rlm.closeOnce.Do(func() {
		close(rlm.stopChan)
		if rlm.limiter != nil {
			err = rlm.limiter.Close()
		}
	})
	return err
}
