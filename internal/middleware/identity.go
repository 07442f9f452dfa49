package middleware

// identity.go holds the context keys shared by the auth middleware and the
// handlers, plus the JSON error reply used when a request is aborted.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/model"
)

const (
	ctxUser     = "user"
	ctxUsername = "username"
	ctxIsAdmin  = "is_admin"
)

// CurrentUser returns the authenticated user, or nil for anonymous requests.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(ctxUser).(*model.User)
	return u
}

// Username returns the authenticated username, or "" for anonymous requests.
func Username(c echo.Context) string {
	s, _ := c.Get(ctxUsername).(string)
	return s
}

// IsAdmin reports whether the authenticated user holds admin rights.
func IsAdmin(c echo.Context) bool {
	b, _ := c.Get(ctxIsAdmin).(bool)
	return b
}

// identity keys per-client state such as rate-limit buckets.
func identity(c echo.Context) string {
	if u := Username(c); u != "" {
		return u
	}
	return "anon"
}

func abort(c echo.Context, err error) error {
	return c.JSON(apperror.HTTPStatus(err), echo.Map{
		"error": apperror.Message(err),
		"code":  apperror.CodeOf(err),
	})
}
