package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"taskmanager/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Limiter 是按 key 限流的接口。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimitByIP 按客户端 IP 限流，超限返回 429。
//
// 限流后端出错时放行请求，只记录日志。
func RateLimitByIP(limiter Limiter, scope string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		allowed, wait, err := limiter.Allow(ctx, scope+":"+c.ClientIP())
		if err != nil {
			metrics.RateLimitErrorsTotal.Inc()
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("scope", scope), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.Inc()
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Too many requests"})
			return
		}
		c.Next()
	}
}
