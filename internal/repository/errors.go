// Package repository defines the persistence contracts for users, refresh
// tokens, posters, archived posters and images, together with their MySQL
// implementations.  The sentinel values below let the service layer map
// storage outcomes onto typed application errors without inspecting
// driver messages.
package repository

import "errors"

// ErrNotFound is returned when the addressed row does not exist.  For
// conditional deletes it also signals that another caller removed the
// row first.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// the row's current state, such as purging a poster that is not in the
// trash.
var ErrConflict = errors.New("conflict")

// ErrUsernameExists and ErrEmailExists report a unique-key violation on
// the users table.
var (
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
)
