package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Logger emits one structured access log line per request after the handler
// chain completes. Errors are routed through echo's error handler first so
// the logged status reflects what was actually written to the client.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			logger.WithContext(req.Context()).WithFields(map[string]any{
				"request_id":  requestID(c),
				"method":      req.Method,
				"route":       c.Path(),
				"uri":         req.RequestURI,
				"status":      res.Status,
				"remote_ip":   c.RealIP(),
				"host":        req.Host,
				"user_agent":  req.UserAgent(),
				"duration_ms": elapsed.Milliseconds(),
				"bytes_out":   res.Size,
			}).Info("Request")

			return nil
		}
	}
}

// requestID prefers the inbound header, then whatever the RequestID
// middleware stamped on the response, and mints one as a last resort.
func requestID(c echo.Context) string {
	if id := c.Request().Header.Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}
