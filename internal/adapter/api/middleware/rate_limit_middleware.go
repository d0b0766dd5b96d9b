package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"rentalhub/internal/infrastructure/ratelimit"
	"rentalhub/pkg/errors"
	"rentalhub/pkg/logger"
	"rentalhub/pkg/response"
)

// RateLimit throttles requests per client IP with rl's api_request limit and
// reports the bucket state in X-RateLimit-* headers.
func RateLimit(rl *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ok, wait := rl.Allow(ip, ratelimit.ActionAPIRequest); !ok {
				logger.Warn("RATE LIMIT: Blocked request from IP %s (reset in %v)", ip, wait)
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded", wait))
			}

			remaining, limit := rl.Tokens(ip, ratelimit.ActionAPIRequest)
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			return next(c)
		}
	}
}
