package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// quietPrefixes are probe and scrape paths logged at debug level only.
var quietPrefixes = []string{"/health", "/metrics"}

// Logger writes one line per request. Server errors log at error level and
// client errors at warn. The screen session id is included when routed.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// resolve the status before logging it
				c.Error(err)
			}

			status := c.Response().Status
			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			case quiet(req.URL.Path):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if user := req.Header.Get("X-User-ID"); user != "" {
				evt = evt.Str("user", user)
			}
			if sid := c.Param("sid"); sid != "" {
				evt = evt.Str("screen_id", sid)
			}
			evt.Msg("request")

			return nil
		}
	}
}

func quiet(path string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
