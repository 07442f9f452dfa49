package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/linklink-server/internal/model"
)

const userColumns = "username, email, hashed_password, is_active, is_admin, status, created_at, updated_at, approved_at, approved_by"

// UserRepo is the MySQL implementation of UserRepository.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u.  Duplicate usernames and emails map to
// ErrUsernameExists and ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?,?,?)",
		u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsAdmin, string(u.Status),
		u.CreatedAt, u.UpdatedAt, u.ApprovedAt, nullString(u.ApprovedBy))
	if err != nil {
		if msg, ok := duplicateKey(err); ok {
			if strings.Contains(strings.ToLower(msg), "email") {
				return ErrEmailExists
			}
			return ErrUsernameExists
		}
		return err
	}
	return nil
}

// GetByUsername fetches a user by primary key.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// ListByStatus returns users in the given approval state, oldest first.
func (r *UserRepo) ListByStatus(ctx context.Context, status model.UserStatus) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE status=? ORDER BY created_at ASC, username ASC", string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Update writes every mutable column of u.
func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET email=?, hashed_password=?, is_active=?, is_admin=?, status=?,
		 updated_at=?, approved_at=?, approved_by=? WHERE username=?`,
		strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.IsActive, u.IsAdmin, string(u.Status),
		u.UpdatedAt, u.ApprovedAt, nullString(u.ApprovedBy), u.Username)
	if err != nil {
		if msg, ok := duplicateKey(err); ok && strings.Contains(strings.ToLower(msg), "email") {
			return ErrEmailExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Decide records the approval outcome on a pending account.  The status
// guard in the WHERE clause makes the pending-to-decided step happen once.
func (r *UserRepo) Decide(ctx context.Context, u *model.User) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET is_active=?, status=?, updated_at=?, approved_at=?, approved_by=?
		 WHERE username=? AND status=?`,
		u.IsActive, string(u.Status), u.UpdatedAt, u.ApprovedAt, nullString(u.ApprovedBy),
		u.Username, string(model.StatusPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username=?", u.Username).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrConflict
}

// Delete removes a user.  It reports whether a row was removed.
func (r *UserRepo) Delete(ctx context.Context, username string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE username=?", username)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u          model.User
		status     string
		approvedAt sql.NullTime
		approvedBy sql.NullString
	)
	err := row.Scan(&u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsAdmin, &status,
		&u.CreatedAt, &u.UpdatedAt, &approvedAt, &approvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Status = model.UserStatus(status)
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		u.ApprovedAt = &t
	}
	u.ApprovedBy = approvedBy.String
	return &u, nil
}
