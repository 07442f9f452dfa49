// Package memory is an in-process implementation of the repository
// contracts.  One Store guards every table with a single mutex, which
// makes each method atomic and gives token rotation and archive-and-purge
// the same all-or-nothing behaviour as the MySQL transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
)

// Store holds all tables.  Entities are copied on the way in and out so
// callers never share memory with the store.
type Store struct {
	mu sync.Mutex

	users    map[string]model.User
	tokens   map[string]model.RefreshToken
	posters  map[uint64]model.Poster
	images   map[string]storedImage
	archived map[uint64]model.ArchivedPoster // keyed by original id

	nextPosterID  uint64
	nextArchiveID uint64
	imageSeq      int

	// FailArchive makes the next archive insert fail, for exercising
	// archive-before-purge ordering.
	FailArchive error
}

type storedImage struct {
	img      model.Image
	position int
	seq      int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    map[string]model.User{},
		tokens:   map[string]model.RefreshToken{},
		posters:  map[uint64]model.Poster{},
		images:   map[string]storedImage{},
		archived: map[uint64]model.ArchivedPoster{},
	}
}

// Users returns the UserRepository view.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// Tokens returns the RefreshTokenRepository view.
func (s *Store) Tokens() repository.RefreshTokenRepository { return tokenRepo{s} }

// Posters returns the PosterRepository view.
func (s *Store) Posters() repository.PosterRepository { return posterRepo{s} }

// Archive returns the ArchivedPosterRepository view.
func (s *Store) Archive() repository.ArchivedPosterRepository { return archiveRepo{s} }

// Images returns the ImageRepository view.
func (s *Store) Images() repository.ImageRepository { return imageRepo{s} }

// ---- users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := r.s.users[u.Username]; ok {
		return repository.ErrUsernameExists
	}
	for _, other := range r.s.users {
		if other.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	r.s.users[u.Username] = copyUser(*u)
	return nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.s.users {
		if u.Email == email {
			out := copyUser(u)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r userRepo) ListByStatus(_ context.Context, status model.UserStatus) ([]model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.User
	for _, u := range r.s.users {
		if u.Status == status {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (r userRepo) Update(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.Username]; !ok {
		return repository.ErrNotFound
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	for name, other := range r.s.users {
		if name != u.Username && other.Email == email {
			return repository.ErrEmailExists
		}
	}
	u.Email = email
	r.s.users[u.Username] = copyUser(*u)
	return nil
}

func (r userRepo) Decide(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[u.Username]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != model.StatusPending {
		return repository.ErrConflict
	}
	cur.IsActive = u.IsActive
	cur.Status = u.Status
	cur.UpdatedAt = u.UpdatedAt
	cur.ApprovedAt = u.ApprovedAt
	cur.ApprovedBy = u.ApprovedBy
	r.s.users[u.Username] = copyUser(cur)
	return nil
}

func (r userRepo) Delete(_ context.Context, username string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[username]; !ok {
		return false, nil
	}
	delete(r.s.users, username)
	for h, t := range r.s.tokens {
		if t.Username == username {
			delete(r.s.tokens, h)
		}
	}
	return true, nil
}

func copyUser(u model.User) model.User {
	if u.ApprovedAt != nil {
		t := *u.ApprovedAt
		u.ApprovedAt = &t
	}
	return u
}

// ---- refresh tokens

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[t.TokenHash]; ok {
		return repository.ErrConflict
	}
	r.s.tokens[t.TokenHash] = *t
	return nil
}

func (r tokenRepo) GetByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r tokenRepo) DeleteByHash(_ context.Context, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.tokens[hash]
	delete(r.s.tokens, hash)
	return ok, nil
}

func (r tokenRepo) Rotate(_ context.Context, oldHash string, next *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[oldHash]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.tokens[next.TokenHash]; ok {
		return repository.ErrConflict
	}
	delete(r.s.tokens, oldHash)
	r.s.tokens[next.TokenHash] = *next
	return nil
}

func (r tokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for h, t := range r.s.tokens {
		if !t.ExpiresAt.After(before) {
			delete(r.s.tokens, h)
			n++
		}
	}
	return n, nil
}
