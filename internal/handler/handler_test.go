package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/linklink-server/internal/apperror"
)

func TestValidator_ReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()

	err := v.Validate(&registerReq{Username: "ab", Email: "x", Password: "12345"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.Validation(""))
	assert.Contains(t, err.Error(), "field 'username' must be at least 3 characters")
	assert.Contains(t, err.Error(), "field 'email' must be a valid email address")
	assert.Contains(t, err.Error(), "field 'password' must be at least 6 characters")

	assert.NoError(t, v.Validate(&registerReq{Username: "alice", Email: "a@b.io", Password: "secret123"}))
}

func TestValidator_OneOf(t *testing.T) {
	err := NewValidator().Validate(&approvalReq{Username: "alice", Action: "maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of: approve reject")
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"app error", apperror.ErrNotOwner, http.StatusForbidden, "NOT_OWNER"},
		{"plain error", errors.New("db exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			NewHTTPErrorHandler()(tt.err, c)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
			assert.NotContains(t, rec.Body.String(), "exploded")
		})
	}
}

type downDB struct{ err error }

func (d downDB) PingContext(context.Context) error { return d.err }

func TestHealth(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	_ = Health(downDB{})(e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	_ = Health(downDB{err: errors.New("gone")})(e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
