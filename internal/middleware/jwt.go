package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/logger"
	"github.com/iliyamo/linklink-server/internal/model"
)

// Authenticator resolves an access token to an active, approved user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// JWTAuth returns an Echo middleware that requires a valid Bearer access
// token. On success the user is available through CurrentUser, Username
// and IsAdmin.
func JWTAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return abort(c, apperror.ErrInvalidToken)
			}
			if err := authenticate(c, auth, raw); err != nil {
				return abort(c, err)
			}
			return next(c)
		}
	}
}

// OptionalAuth treats a request without an Authorization header as
// anonymous. A header that is present but invalid is still rejected.
func OptionalAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				return next(c)
			}
			raw, ok := bearer(c)
			if !ok {
				return abort(c, apperror.ErrInvalidToken)
			}
			if err := authenticate(c, auth, raw); err != nil {
				return abort(c, err)
			}
			return next(c)
		}
	}
}

func bearer(c echo.Context) (string, bool) {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(h[len(prefix):])
	return raw, raw != ""
}

func authenticate(c echo.Context, auth Authenticator, raw string) error {
	req := c.Request()
	user, err := auth.Authenticate(req.Context(), raw)
	if err != nil {
		return err
	}
	c.Set(ctxUser, user)
	c.Set(ctxUsername, user.Username)
	c.Set(ctxIsAdmin, user.IsAdmin)

	ctx := logger.WithUsername(req.Context(), user.Username)
	ctx = logger.NewContext(ctx, logger.FromContext(ctx).With("username", user.Username))
	c.SetRequest(req.WithContext(ctx))
	return nil
}
