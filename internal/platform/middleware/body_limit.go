package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20

// BodyLimit caps request body size. Append payloads are small; anything
// oversized is rejected with 413 before it reaches the ledger. The limit is
// a size string such as "1M", "512K" or bare bytes.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > maxBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			if req.Body != nil && req.Body != http.NoBody {
				// Covers chunked requests that carry no Content-Length.
				req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			}

			err := next(c)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}
			return err
		}
	}
}

func parseLimit(s string) int64 {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	if s == "" {
		return defaultBodyLimit
	}

	var shift uint
	switch s[len(s)-1] {
	case 'K':
		shift, s = 10, s[:len(s)-1]
	case 'M':
		shift, s = 20, s[:len(s)-1]
	case 'G':
		shift, s = 30, s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n << shift
}
