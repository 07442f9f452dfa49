package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
	"github.com/iliyamo/linklink-server/internal/storage"
	"github.com/iliyamo/linklink-server/internal/utils"
)

// DefaultMaxFileSize is the upload limit used when none is configured.
const DefaultMaxFileSize int64 = 10 << 20

// DefaultAllowedTypes are the image content types accepted by default.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// ImageUpload is one file received from a client.
type ImageUpload struct {
	OriginalFilename string
	ContentType      string
	Data             []byte
}

// ImageConfig bounds what ImageService accepts.
type ImageConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// ImageService validates, stores and deletes image files together with
// their metadata rows.
type ImageService struct {
	images  repository.ImageRepository
	storage storage.Storage
	cfg     ImageConfig
	allowed map[string]bool
	clock   utils.Clock
	logger  *slog.Logger
}

// NewImageService creates a new image service.
func NewImageService(
	images repository.ImageRepository,
	store storage.Storage,
	cfg ImageConfig,
	clock utils.Clock,
	logger *slog.Logger,
) *ImageService {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &ImageService{
		images:  images,
		storage: store,
		cfg:     cfg,
		allowed: allowed,
		clock:   clock,
		logger:  logger,
	}
}

// MaxFileSize returns the per-file upload limit in bytes.
func (s *ImageService) MaxFileSize() int64 { return s.cfg.MaxFileSize }

// URL returns the public URL of a stored image.
func (s *ImageService) URL(img model.Image) string { return s.storage.URL(img.FilePath) }

// Upload stores one standalone image for owner.
func (s *ImageService) Upload(ctx context.Context, owner string, up ImageUpload) (*model.Image, error) {
	stored, err := s.Store(ctx, owner, []ImageUpload{up})
	if err != nil {
		return nil, err
	}
	img := stored[0]
	if err := s.images.Create(ctx, &img); err != nil {
		s.RemoveFiles(ctx, stored)
		return nil, apperror.Internal(fmt.Errorf("create image: %w", err))
	}
	s.logger.InfoContext(ctx, "image uploaded",
		slog.String("username", owner),
		slog.String("filename", img.Filename),
		slog.Int64("size", img.FileSize),
	)
	return &img, nil
}

// ListByOwner returns owner's images, newest first.
func (s *ImageService) ListByOwner(ctx context.Context, owner string) ([]model.Image, error) {
	imgs, err := s.images.ListByUsername(ctx, owner)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list images: %w", err))
	}
	return imgs, nil
}

// Get returns the metadata of one of owner's images.  Someone else's
// image is reported as missing.
func (s *ImageService) Get(ctx context.Context, owner, filename string) (*model.Image, error) {
	img, err := s.images.GetByFilename(ctx, filename)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrImageNotFound
		}
		return nil, apperror.Internal(fmt.Errorf("get image: %w", err))
	}
	if img.Username != owner {
		return nil, apperror.ErrImageNotFound
	}
	return img, nil
}

// Delete removes one of owner's images.
func (s *ImageService) Delete(ctx context.Context, owner, filename string) error {
	img, err := s.Get(ctx, owner, filename)
	if err != nil {
		return err
	}
	removed, err := s.images.Delete(ctx, filename)
	if err != nil {
		return apperror.Internal(fmt.Errorf("delete image: %w", err))
	}
	if !removed {
		return apperror.ErrImageNotFound
	}
	s.RemoveFiles(ctx, []model.Image{*img})
	return nil
}

// Store validates every upload, then writes the files.  The returned rows
// are not yet persisted.  If any write fails the files already written
// are removed.
func (s *ImageService) Store(ctx context.Context, owner string, uploads []ImageUpload) ([]model.Image, error) {
	for i := range uploads {
		if err := s.validate(&uploads[i]); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	out := make([]model.Image, 0, len(uploads))
	for _, up := range uploads {
		filename := fmt.Sprintf("%s_%s%s", owner, uuid.New().String(), extension(up))
		key := path.Join(now.Format("2006/01/02"), owner, filename)
		res, err := s.storage.Upload(ctx, &storage.UploadInput{
			Key:         key,
			ContentType: up.ContentType,
			Size:        int64(len(up.Data)),
			Data:        bytes.NewReader(up.Data),
		})
		if err != nil {
			s.RemoveFiles(ctx, out)
			return nil, apperror.Internal(fmt.Errorf("upload to storage: %w", err))
		}
		out = append(out, model.Image{
			Filename:         filename,
			OriginalFilename: up.OriginalFilename,
			Username:         owner,
			FilePath:         res.Key,
			FileSize:         int64(len(up.Data)),
			ContentType:      up.ContentType,
			UploadedAt:       now,
		})
	}
	return out, nil
}

// RemoveFiles deletes image files from storage.  Failures are logged; the
// metadata rows are already gone by the time this runs.
func (s *ImageService) RemoveFiles(ctx context.Context, imgs []model.Image) {
	for _, img := range imgs {
		if err := s.storage.Delete(ctx, img.FilePath); err != nil {
			s.logger.WarnContext(ctx, "failed to remove image file",
				slog.String("path", img.FilePath),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *ImageService) validate(up *ImageUpload) error {
	if strings.TrimSpace(up.OriginalFilename) == "" {
		return apperror.Validation("no filename provided")
	}
	if len(up.Data) == 0 {
		return apperror.Validation("file is empty")
	}
	ct := strings.ToLower(strings.TrimSpace(up.ContentType))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(up.Data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !s.allowed[ct] {
		return apperror.Validation(fmt.Sprintf("file type %q not allowed", ct))
	}
	up.ContentType = ct
	if int64(len(up.Data)) > s.cfg.MaxFileSize {
		return apperror.Validation(fmt.Sprintf("file too large, maximum size is %d bytes", s.cfg.MaxFileSize))
	}
	return nil
}

// extension takes the original file's extension when it is plain, and
// falls back to the one implied by the content type.
func extension(up ImageUpload) string {
	ext := strings.ToLower(path.Ext(up.OriginalFilename))
	if safeExt.MatchString(ext) {
		return ext
	}
	if e, ok := extByType[up.ContentType]; ok {
		return e
	}
	return ".bin"
}
