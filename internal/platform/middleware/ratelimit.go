package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds how often one caller may hit a guarded route.
// Callers idle for ExpiresIn lose their bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	ExpiresIn         time.Duration
}

// ExportRateLimit is applied to export materialisation, which encodes and
// stores a whole artifact per call.
func ExportRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, BurstSize: 5, ExpiresIn: 3 * time.Minute}
}

// retryAfter is the whole number of seconds until one token is back.
func (cfg RateLimitConfig) retryAfter() int {
	if cfg.RequestsPerSecond <= 0 {
		return 1
	}
	return int(math.Ceil(1 / cfg.RequestsPerSecond))
}

// RateLimit keys buckets by the X-User-ID header, falling back to the client
// address for anonymous callers.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.RequestsPerSecond),
		Burst:     cfg.BurstSize,
		ExpiresIn: cfg.ExpiresIn,
	})
	retry := strconv.Itoa(cfg.retryAfter())

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if user := c.Request().Header.Get("X-User-ID"); user != "" {
				return user, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, err error) error {
			c.Response().Header().Set("Retry-After", retry)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded").SetInternal(err)
		},
	})
}
