package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/linklink-server/internal/model"
)

const posterColumns = "id, username, message, privacy, created_at, is_deleted, deleted_at"

// PosterRepo is the MySQL implementation of PosterRepository.  Image rows
// are stored in the images table with a position column that preserves
// the order they were attached in.
type PosterRepo struct {
	db *sql.DB
}

func NewPosterRepo(db *sql.DB) *PosterRepo { return &PosterRepo{db: db} }

// Create inserts the poster and its images in one transaction and sets
// p.ID from the generated key.
func (r *PosterRepo) Create(ctx context.Context, p *model.Poster) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
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

	res, err := tx.ExecContext(ctx,
		"INSERT INTO posters (username, message, privacy, created_at, is_deleted, deleted_at) VALUES (?,?,?,?,?,?)",
		p.Username, p.Message, string(p.Privacy), p.CreatedAt, p.IsDeleted, p.DeletedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	for i := range p.Images {
		p.Images[i].PosterID = &p.ID
		if err = insertImage(ctx, tx, &p.Images[i], i); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns a poster with its images, deleted or not.
func (r *PosterRepo) GetByID(ctx context.Context, id uint64) (*model.Poster, error) {
	p, err := scanPoster(r.db.QueryRowContext(ctx,
		"SELECT "+posterColumns+" FROM posters WHERE id=?", id))
	if err != nil {
		return nil, err
	}
	imgs, err := imagesForPosters(ctx, r.db, []uint64{p.ID})
	if err != nil {
		return nil, err
	}
	p.Images = imgs[p.ID]
	return p, nil
}

// ListByUsername returns the owner's live posters, newest first.
func (r *PosterRepo) ListByUsername(ctx context.Context, username string) ([]model.Poster, error) {
	return r.list(ctx,
		"SELECT "+posterColumns+" FROM posters WHERE username=? AND is_deleted=0 ORDER BY created_at DESC, id DESC",
		username)
}

// ListVisible returns one page of the feed as seen by q.Viewer.  Anonymous
// readers see public posters; signed-in readers also see community
// posters and their own private ones.
func (r *PosterRepo) ListVisible(ctx context.Context, q VisibilityQuery) ([]model.Poster, error) {
	if q.Viewer == "" {
		return r.list(ctx,
			"SELECT "+posterColumns+` FROM posters
			 WHERE is_deleted=0 AND privacy='public'
			 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
			q.Limit, q.Offset)
	}
	return r.list(ctx,
		"SELECT "+posterColumns+` FROM posters
		 WHERE is_deleted=0 AND (privacy IN ('public','community') OR username=?)
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		q.Viewer, q.Limit, q.Offset)
}

// Update edits a live poster.  The poster row is locked first so a
// concurrent soft delete either lands before the check or waits for the
// commit.
func (r *PosterRepo) Update(ctx context.Context, p *model.Poster, images []model.Image) (removed []model.Image, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var deleted bool
	if err = tx.QueryRowContext(ctx, "SELECT is_deleted FROM posters WHERE id=? FOR UPDATE", p.ID).Scan(&deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if deleted {
		return nil, ErrConflict
	}

	if _, err = tx.ExecContext(ctx,
		"UPDATE posters SET message=?, privacy=? WHERE id=? AND is_deleted=0",
		p.Message, string(p.Privacy), p.ID); err != nil {
		return nil, err
	}
	if images == nil {
		return nil, nil
	}

	current, err := imagesForPosters(ctx, tx, []uint64{p.ID})
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM images WHERE poster_id=?", p.ID); err != nil {
		return nil, err
	}
	for i := range images {
		images[i].PosterID = &p.ID
		if err = insertImage(ctx, tx, &images[i], i); err != nil {
			return nil, err
		}
	}
	return current[p.ID], nil
}

// SoftDelete moves a live poster to the trash.  A poster that is already
// in the trash yields ErrConflict.
func (r *PosterRepo) SoftDelete(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE posters SET is_deleted=1, deleted_at=? WHERE id=? AND is_deleted=0", at, id)
	if err != nil {
		return err
	}
	return r.conditionalResult(ctx, res, id)
}

// Restore takes a poster out of the trash.  A live poster yields
// ErrConflict.
func (r *PosterRepo) Restore(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE posters SET is_deleted=0, deleted_at=NULL WHERE id=? AND is_deleted=1", id)
	if err != nil {
		return err
	}
	return r.conditionalResult(ctx, res, id)
}

// ListDeleted returns the owner's trash, most recently deleted first.
func (r *PosterRepo) ListDeleted(ctx context.Context, username string) ([]model.Poster, error) {
	return r.list(ctx,
		"SELECT "+posterColumns+" FROM posters WHERE username=? AND is_deleted=1 ORDER BY deleted_at DESC, id DESC",
		username)
}

// ArchiveAndHardDelete snapshots a trashed poster into archived_posters
// and removes the poster and its image rows.  The archive insert runs
// before any delete; if it fails nothing is removed.
func (r *PosterRepo) ArchiveAndHardDelete(ctx context.Context, id uint64, at time.Time) (archived *model.ArchivedPoster, removed []model.Image, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	p, err := scanPoster(tx.QueryRowContext(ctx,
		"SELECT "+posterColumns+" FROM posters WHERE id=? FOR UPDATE", id))
	if err != nil {
		return nil, nil, err
	}
	if !p.IsDeleted {
		err = ErrConflict
		return nil, nil, err
	}
	imgs, err := imagesForPosters(ctx, tx, []uint64{p.ID})
	if err != nil {
		return nil, nil, err
	}
	p.Images = imgs[p.ID]

	archived = model.NewArchivedPoster(p, at)
	if err = insertArchived(ctx, tx, archived); err != nil {
		return nil, nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM images WHERE poster_id=?", p.ID); err != nil {
		return nil, nil, err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM posters WHERE id=?", p.ID); err != nil {
		return nil, nil, err
	}
	return archived, p.Images, nil
}

// ArchiveAndHardDeleteAllDeleted purges every trashed poster of username,
// one transaction per poster.  Posters restored or purged concurrently
// are skipped.  On failure the count and images of the posters already
// purged are returned alongside the error.
func (r *PosterRepo) ArchiveAndHardDeleteAllDeleted(ctx context.Context, username string, at time.Time) (int, []model.Image, error) {
	trash, err := r.ListDeleted(ctx, username)
	if err != nil {
		return 0, nil, err
	}
	var (
		count   int
		removed []model.Image
	)
	for _, p := range trash {
		_, imgs, err := r.ArchiveAndHardDelete(ctx, p.ID, at)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return count, removed, err
		}
		count++
		removed = append(removed, imgs...)
	}
	return count, removed, nil
}

func (r *PosterRepo) list(ctx context.Context, query string, args ...any) ([]model.Poster, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []model.Poster
		ids []uint64
	)
	for rows.Next() {
		p, err := scanPoster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	imgs, err := imagesForPosters(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Images = imgs[out[i].ID]
	}
	return out, nil
}

// conditionalResult distinguishes a missing poster from one in the wrong
// state after a guarded UPDATE matched no rows.
func (r *PosterRepo) conditionalResult(ctx context.Context, res sql.Result, id uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1 FROM posters WHERE id=?", id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrConflict
}

func scanPoster(row rowScanner) (*model.Poster, error) {
	var (
		p         model.Poster
		privacy   string
		deletedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Username, &p.Message, &privacy, &p.CreatedAt, &p.IsDeleted, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Privacy = model.Privacy(privacy)
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		p.DeletedAt = &t
	}
	return &p, nil
}
