// Package apperror defines the typed failures returned by the credential
// and content services. Every distinguishable outcome has an exported
// sentinel; callers branch with errors.Is or KindOf and never inspect
// message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups failures by meaning.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindConflict        Kind = "CONFLICT"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindInternal        Kind = "INTERNAL"
)

// StatusUnavailableForLegalReasons is returned when a private poster is
// requested by someone other than its owner.
const StatusUnavailableForLegalReasons = http.StatusUnavailableForLegalReasons

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so a sentinel still
// matches after being copied or re-wrapped with a different message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func newError(kind Kind, status int, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Status: status}
}

// Credential lifecycle outcomes.
var (
	ErrUsernameTaken          = newError(KindConflict, http.StatusConflict, "USERNAME_TAKEN", "username already exists")
	ErrEmailTaken             = newError(KindConflict, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
	ErrUserNotFound           = newError(KindNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	ErrAlreadyDecided         = newError(KindConflict, http.StatusConflict, "ALREADY_DECIDED", "user registration was already decided")
	ErrInvalidAction          = newError(KindValidation, http.StatusBadRequest, "INVALID_ACTION", "action must be approve or reject")
	ErrInvalidCredentials     = newError(KindUnauthenticated, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
	ErrPendingApproval        = newError(KindForbidden, http.StatusForbidden, "PENDING_APPROVAL", "account is pending approval")
	ErrRejected               = newError(KindForbidden, http.StatusForbidden, "ACCOUNT_REJECTED", "account has been rejected")
	ErrDeactivated            = newError(KindForbidden, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "account is deactivated")
	ErrInvalidToken           = newError(KindUnauthenticated, http.StatusUnauthorized, "INVALID_TOKEN", "token expired or invalid")
	ErrTokenNotFoundOrExpired = newError(KindUnauthenticated, http.StatusUnauthorized, "REFRESH_TOKEN_INVALID", "refresh token not found or expired")
	ErrUserInactive           = newError(KindUnauthenticated, http.StatusUnauthorized, "USER_INACTIVE", "user not found or inactive")
	ErrAdminRequired          = newError(KindForbidden, http.StatusForbidden, "ADMIN_REQUIRED", "admin privileges required")
)

// Content lifecycle outcomes.
var (
	ErrPosterNotFound             = newError(KindNotFound, http.StatusNotFound, "POSTER_NOT_FOUND", "poster not found")
	ErrNotOwner                   = newError(KindForbidden, http.StatusForbidden, "NOT_OWNER", "not allowed to modify this poster")
	ErrAlreadyDeleted             = newError(KindConflict, http.StatusConflict, "ALREADY_DELETED", "poster is already deleted")
	ErrNotDeleted                 = newError(KindConflict, http.StatusConflict, "NOT_DELETED", "poster is not deleted")
	ErrNotYetSoftDeleted          = newError(KindConflict, http.StatusConflict, "NOT_IN_TRASH", "poster must be deleted first (in trash)")
	ErrLoginRequired              = newError(KindUnauthenticated, http.StatusUnauthorized, "LOGIN_REQUIRED", "you must be logged in to view this poster")
	ErrUnavailableForLegalReasons = newError(KindForbidden, StatusUnavailableForLegalReasons, "PRIVATE_POSTER", "not allowed to view this poster (private)")
	ErrInvalidPrivacy             = newError(KindValidation, http.StatusBadRequest, "INVALID_PRIVACY", "privacy must be public, community or private")
	ErrImageNotFound              = newError(KindNotFound, http.StatusNotFound, "IMAGE_NOT_FOUND", "image not found")
)

// Validation creates a 400 error for malformed input.
func Validation(message string) *AppError {
	return newError(KindValidation, http.StatusBadRequest, "VALIDATION_FAILED", message)
}

// Internal creates a 500 error wrapping a storage or collaborator failure.
func Internal(err error) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// KindOf returns the kind of err. Errors that are not AppErrors are internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the stable code of err, "OK" for nil and INTERNAL_ERROR
// for errors that are not AppErrors.
func CodeOf(err error) string {
	if err == nil {
		return "OK"
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// Message returns the client-facing message of err. Causes of internal
// errors are never exposed.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an internal error occurred"
}
