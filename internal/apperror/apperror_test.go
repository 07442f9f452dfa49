package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("edit poster: %w", ErrAlreadyDeleted)

	assert.ErrorIs(t, wrapped, ErrAlreadyDeleted)
	assert.NotErrorIs(t, wrapped, ErrNotDeleted)
}

func TestIs_CopiedSentinelStillMatches(t *testing.T) {
	cp := *ErrPendingApproval
	cp.Message = "custom message"

	assert.ErrorIs(t, &cp, ErrPendingApproval)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"conflict", ErrUsernameTaken, KindConflict},
		{"not found", ErrPosterNotFound, KindNotFound},
		{"forbidden", ErrNotOwner, KindForbidden},
		{"unauthenticated", ErrInvalidToken, KindUnauthenticated},
		{"validation", Validation("bad"), KindValidation},
		{"internal wrapper", Internal(errors.New("db down")), KindInternal},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnavailableForLegalReasons, HTTPStatus(ErrUnavailableForLegalReasons))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(ErrNotOwner))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("x: %w", ErrAlreadyDecided)))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrLoginRequired))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestInternal_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "OK", CodeOf(nil))
	assert.Equal(t, "NOT_OWNER", CodeOf(fmt.Errorf("wrap: %w", ErrNotOwner)))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(errors.New("boom")))
}

func TestMessage_HidesInternalCause(t *testing.T) {
	assert.Equal(t, "poster not found", Message(fmt.Errorf("get: %w", ErrPosterNotFound)))
	assert.Equal(t, "an internal error occurred", Message(Internal(errors.New("dsn password=secret"))))
	assert.Equal(t, "an internal error occurred", Message(errors.New("boom")))
}
