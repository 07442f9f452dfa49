package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/linklink-server/internal/model"
)

const imageColumns = "filename, original_filename, username, file_path, file_size, content_type, uploaded_at, poster_id"

// ImageRepo is the MySQL implementation of ImageRepository.
type ImageRepo struct{ DB *sql.DB }

func NewImageRepo(db *sql.DB) *ImageRepo { return &ImageRepo{DB: db} }

// Create inserts a standalone image row.
func (r *ImageRepo) Create(ctx context.Context, img *model.Image) error {
	return insertImage(ctx, r.DB, img, 0)
}

// GetByFilename fetches one image row.
func (r *ImageRepo) GetByFilename(ctx context.Context, filename string) (*model.Image, error) {
	img, err := scanImage(r.DB.QueryRowContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE filename=?", filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

// ListByUsername returns the user's images, newest first.
func (r *ImageRepo) ListByUsername(ctx context.Context, username string) ([]model.Image, error) {
	return r.list(ctx,
		"SELECT "+imageColumns+" FROM images WHERE username=? ORDER BY uploaded_at DESC, filename ASC", username)
}

// ListByPoster returns a poster's images in attachment order.
func (r *ImageRepo) ListByPoster(ctx context.Context, posterID uint64) ([]model.Image, error) {
	return r.list(ctx,
		"SELECT "+imageColumns+" FROM images WHERE poster_id=? ORDER BY position ASC, uploaded_at ASC", posterID)
}

// Delete removes an image row and reports whether it existed.
func (r *ImageRepo) Delete(ctx context.Context, filename string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM images WHERE filename=?", filename)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ImageRepo) list(ctx context.Context, query string, args ...any) ([]model.Image, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

func insertImage(ctx context.Context, q queryer, img *model.Image, position int) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO images ("+imageColumns+", position) VALUES (?,?,?,?,?,?,?,?,?)",
		img.Filename, img.OriginalFilename, img.Username, img.FilePath, img.FileSize,
		img.ContentType, img.UploadedAt, img.PosterID, position)
	if _, dup := duplicateKey(err); dup {
		return ErrConflict
	}
	return err
}

// imagesForPosters loads the images of several posters with one query,
// grouped by poster id and kept in attachment order.
func imagesForPosters(ctx context.Context, q queryer, ids []uint64) (map[uint64][]model.Image, error) {
	out := make(map[uint64][]model.Image, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE poster_id IN ("+placeholders(len(ids))+") ORDER BY poster_id, position ASC, uploaded_at ASC",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out[*img.PosterID] = append(out[*img.PosterID], *img)
	}
	return out, rows.Err()
}

func scanImage(row rowScanner) (*model.Image, error) {
	var (
		img      model.Image
		posterID sql.NullInt64
	)
	if err := row.Scan(&img.Filename, &img.OriginalFilename, &img.Username, &img.FilePath,
		&img.FileSize, &img.ContentType, &img.UploadedAt, &posterID); err != nil {
		return nil, err
	}
	if posterID.Valid {
		id := uint64(posterID.Int64)
		img.PosterID = &id
	}
	return &img, nil
}
