package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/linklink-server/internal/model"
)

// TokenRepo persists refresh tokens (single 'token_hash' key column).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Create inserts a refresh token hash row.
func (r *TokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token_hash, username, expires_at, created_at) VALUES (?,?,?,?)",
		t.TokenHash, t.Username, t.ExpiresAt, t.CreatedAt)
	if _, dup := duplicateKey(err); dup {
		return ErrConflict
	}
	return err
}

// GetByHash returns the stored row.  Expiry is not checked here; the
// service compares ExpiresAt against its own clock.
func (r *TokenRepo) GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT token_hash, username, expires_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		hash).Scan(&t.TokenHash, &t.Username, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteByHash removes a token row and reports whether one existed.
func (r *TokenRepo) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash=?", hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Rotate deletes oldHash and inserts next in one transaction.  The delete
// is the guard: if it affects no row another caller has already rotated
// or revoked the token and ErrNotFound is returned with nothing written.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, next *model.RefreshToken) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	res, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash=?", oldHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token_hash, username, expires_at, created_at) VALUES (?,?,?,?)",
		next.TokenHash, next.Username, next.ExpiresAt, next.CreatedAt)
	return err
}

// DeleteExpired removes rows whose expiry is at or before the given instant.
func (r *TokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
