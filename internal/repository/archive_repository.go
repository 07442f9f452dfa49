package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/linklink-server/internal/model"
)

const archivedColumns = "id, original_id, username, message, original_image_path, image_filename, created_at, deleted_at, archived_at, privacy"

// ArchiveRepo is the MySQL implementation of ArchivedPosterRepository.
type ArchiveRepo struct{ DB *sql.DB }

func NewArchiveRepo(db *sql.DB) *ArchiveRepo { return &ArchiveRepo{DB: db} }

// Create appends a snapshot.  A second snapshot for the same original id
// is rejected with ErrConflict.
func (r *ArchiveRepo) Create(ctx context.Context, a *model.ArchivedPoster) error {
	return insertArchived(ctx, r.DB, a)
}

// ListByUsername returns the user's snapshots, most recently archived first.
func (r *ArchiveRepo) ListByUsername(ctx context.Context, username string) ([]model.ArchivedPoster, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+archivedColumns+" FROM archived_posters WHERE username=? ORDER BY archived_at DESC, id DESC", username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ArchivedPoster
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetByOriginalID fetches the snapshot of a purged poster.
func (r *ArchiveRepo) GetByOriginalID(ctx context.Context, originalID uint64) (*model.ArchivedPoster, error) {
	a, err := scanArchived(r.DB.QueryRowContext(ctx,
		"SELECT "+archivedColumns+" FROM archived_posters WHERE original_id=?", originalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func insertArchived(ctx context.Context, q queryer, a *model.ArchivedPoster) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO archived_posters
		 (original_id, username, message, original_image_path, image_filename, created_at, deleted_at, archived_at, privacy)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		a.OriginalID, a.Username, a.Message, a.OriginalImagePath, a.ImageFilename,
		a.CreatedAt, a.DeletedAt, a.ArchivedAt, string(a.Privacy))
	if err != nil {
		if _, dup := duplicateKey(err); dup {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

func scanArchived(row rowScanner) (*model.ArchivedPoster, error) {
	var (
		a       model.ArchivedPoster
		privacy string
	)
	if err := row.Scan(&a.ID, &a.OriginalID, &a.Username, &a.Message, &a.OriginalImagePath,
		&a.ImageFilename, &a.CreatedAt, &a.DeletedAt, &a.ArchivedAt, &privacy); err != nil {
		return nil, err
	}
	a.Privacy = model.Privacy(privacy)
	return &a, nil
}
