package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/logger"
)

// requestTimeout bounds the storage work of a single request.
const requestTimeout = 5 * time.Second

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// respondError writes {"error": msg, "code": CODE}. Internal failures are
// logged with their cause; the client only sees a generic message.
func respondError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	if apperror.KindOf(err) == apperror.KindInternal {
		logger.FromContext(ctx).ErrorContext(ctx, "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return c.JSON(apperror.HTTPStatus(err), echo.Map{
		"error": apperror.Message(err),
		"code":  apperror.CodeOf(err),
	})
}

// NewHTTPErrorHandler renders errors that escape handlers, including
// Echo's own routing errors, in the same JSON shape.
func NewHTTPErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok {
				msg = s
			}
			_ = c.JSON(he.Code, echo.Map{"error": msg, "code": codeForStatus(he.Code)})
			return
		}
		_ = respondError(c, err)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	}
	if status >= http.StatusInternalServerError {
		return "INTERNAL_ERROR"
	}
	return "ERROR"
}

// bind decodes the request into dst and runs the registered validator.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperror.Validation("invalid request body")
	}
	return c.Validate(dst)
}
