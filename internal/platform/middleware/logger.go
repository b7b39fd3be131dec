package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/auditledger/auditledger/internal/platform/auth"
)

// Logger emits one structured line per request, including the authenticated
// principal and the audit channel when the route has one.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			if principal := auth.PrincipalFromContext(c.Request().Context()); principal != "" {
				evt = evt.Str("principal", principal)
			}
			if channel := c.Param("channel"); channel != "" {
				evt = evt.Str("channel", channel)
			}
			evt.Msg("request")

			return err
		}
	}
}
