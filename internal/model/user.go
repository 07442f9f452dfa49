package model

import "time"

// UserStatus is the admin-approval state of an account.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
	StatusRejected UserStatus = "rejected"
)

// User represents an application user record as stored in the `users`
// table. Username is the primary key. An account starts pending and
// inactive, and leaves the pending state exactly once through an admin
// decision.
type User struct {
	Username     string     // users.username
	Email        string     // users.email (unique)
	PasswordHash string     // users.hashed_password (bcrypt)
	IsActive     bool       // users.is_active
	IsAdmin      bool       // users.is_admin
	Status       UserStatus // users.status
	CreatedAt    time.Time  // users.created_at
	UpdatedAt    time.Time  // users.updated_at
	ApprovedAt   *time.Time // users.approved_at (nullable)
	ApprovedBy   string     // users.approved_by (empty when undecided or rejected)
}

// CanAuthenticate reports whether the account may log in or hold a session.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && u.Status == StatusApproved
}

// RefreshToken models an entry in the `refresh_tokens` table. The plain
// token is never stored, only its SHA-256 hash.
type RefreshToken struct {
	TokenHash string    // refresh_tokens.token_hash
	Username  string    // refresh_tokens.username
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}

// IsExpired reports whether the row's absolute expiry has passed at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
