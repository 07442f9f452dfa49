package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/linklink-server/internal/logger"
)

// RequestID assigns every request an id, echoes it in X-Request-ID and
// stores a request-scoped logger in the request context.
func RequestID(base *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			ctx := logger.WithRequestID(req.Context(), id)
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			c.SetRequest(req.WithContext(ctx))
		},
	})
}

// RequestLogger writes one structured line per request.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}
			if u := Username(c); u != "" {
				attrs = append(attrs, slog.String("username", u))
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			base.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}

// Recover turns panics into 500 responses and logs the stack.
func Recover(base *slog.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.WithContext(c.Request().Context(), base).ErrorContext(c.Request().Context(), "panic recovered",
				slog.String("error", err.Error()),
				slog.String("stack", string(stack)),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
			)
			return fmt.Errorf("panic: %w", err)
		},
	})
}
