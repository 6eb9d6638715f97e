package middleware

import (
	"time"

	applogger "SnipeFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one line per request through the application
// logger.
func RequestLogging(log *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			log.Info("http request",
				applogger.String("method", c.Request().Method),
				applogger.String("path", c.Request().RequestURI),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)))

			return err
		}
	}
}
