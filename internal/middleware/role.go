package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/linklink-server/internal/apperror"
)

// RequireAdmin aborts with 403 unless JWTAuth authenticated an admin. It
// must be mounted after JWTAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAdmin(c) {
				return abort(c, apperror.ErrAdminRequired)
			}
			return next(c)
		}
	}
}
