package middleware

import (
	"github.com/pasifika-atlas/reef/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderRunID lets API callers correlate a request with an ingestion run.
const HeaderRunID = "X-Run-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			// get request id from header
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			runID := req.Header.Get(HeaderRunID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetReferer(ctx, req.Referer())
			if runID != "" {
				ctx = context.SetRunID(ctx, runID)
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

