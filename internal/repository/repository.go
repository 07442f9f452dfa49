package repository

import (
	"context"
	"time"

	"github.com/iliyamo/linklink-server/internal/model"
)

// UserRepository persists accounts keyed by username.
//
// Decide writes the admin decision carried by u only while the stored
// account is still pending.  It returns ErrConflict when the account was
// decided in the meantime, so of two racing decisions exactly one lands.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListByStatus(ctx context.Context, status model.UserStatus) ([]model.User, error)
	Update(ctx context.Context, u *model.User) error
	Decide(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, username string) (bool, error)
}

// RefreshTokenRepository persists refresh-token hashes.  Rotate is the only
// path that replaces a token: it removes oldHash and inserts next as one
// unit, and returns ErrNotFound when oldHash is already gone so that two
// racing refreshes cannot both succeed.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) (bool, error)
	Rotate(ctx context.Context, oldHash string, next *model.RefreshToken) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// VisibilityQuery selects a page of the feed.  An empty Viewer is an
// anonymous reader.
type VisibilityQuery struct {
	Viewer string
	Limit  int
	Offset int
}

// PosterRepository persists posters and their linked image rows.
//
// Update writes message and privacy of a live poster and, when images is
// non-nil, replaces its image rows, all in one unit.  A poster that is in
// the trash by the time the write runs yields ErrConflict.  The returned
// images are the displaced rows.
//
// ArchiveAndHardDelete writes the archive snapshot and removes the poster
// and its image rows in one transaction; it refuses with ErrConflict when
// the poster is not soft-deleted.  The returned images are the removed
// rows, whose files the caller deletes afterwards.
type PosterRepository interface {
	Create(ctx context.Context, p *model.Poster) error
	GetByID(ctx context.Context, id uint64) (*model.Poster, error)
	ListByUsername(ctx context.Context, username string) ([]model.Poster, error)
	ListVisible(ctx context.Context, q VisibilityQuery) ([]model.Poster, error)
	Update(ctx context.Context, p *model.Poster, images []model.Image) ([]model.Image, error)
	SoftDelete(ctx context.Context, id uint64, at time.Time) error
	Restore(ctx context.Context, id uint64) error
	ListDeleted(ctx context.Context, username string) ([]model.Poster, error)
	ArchiveAndHardDelete(ctx context.Context, id uint64, at time.Time) (*model.ArchivedPoster, []model.Image, error)
	ArchiveAndHardDeleteAllDeleted(ctx context.Context, username string, at time.Time) (int, []model.Image, error)
}

// ArchivedPosterRepository reads and appends archive snapshots.  Rows are
// never updated or removed.
type ArchivedPosterRepository interface {
	Create(ctx context.Context, a *model.ArchivedPoster) error
	ListByUsername(ctx context.Context, username string) ([]model.ArchivedPoster, error)
	GetByOriginalID(ctx context.Context, originalID uint64) (*model.ArchivedPoster, error)
}

// ImageRepository persists image metadata keyed by filename.
type ImageRepository interface {
	Create(ctx context.Context, img *model.Image) error
	GetByFilename(ctx context.Context, filename string) (*model.Image, error)
	ListByUsername(ctx context.Context, username string) ([]model.Image, error)
	ListByPoster(ctx context.Context, posterID uint64) ([]model.Image, error)
	Delete(ctx context.Context, filename string) (bool, error)
}
