package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iliyamo/linklink-server/internal/apperror"
	"github.com/iliyamo/linklink-server/internal/metrics"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
	"github.com/iliyamo/linklink-server/internal/utils"
)

// Feed paging bounds.
const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// PostNotifier announces a newly visible poster.  Failures never reach
// the caller of Create.
type PostNotifier interface {
	NotifyNewPost(ctx context.Context, username string) error
}

// FeedInvalidator drops cached feed pages after a poster changes.
type FeedInvalidator interface {
	Invalidate(ctx context.Context) error
}

// PosterImages stores and removes the files behind poster images.
type PosterImages interface {
	Store(ctx context.Context, owner string, uploads []ImageUpload) ([]model.Image, error)
	RemoveFiles(ctx context.Context, imgs []model.Image)
}

// CreatePosterInput holds the parameters for a new poster.  An empty
// Privacy means private.
type CreatePosterInput struct {
	Owner   string
	Message string
	Privacy string
	Images  []ImageUpload
}

// EditPosterInput is a partial update.  Nil fields are left untouched; a
// non-nil Images slice replaces every current image.
type EditPosterInput struct {
	Message *string
	Privacy *string
	Images  []ImageUpload
}

// PosterService enforces ownership and privacy across the poster
// lifecycle and computes what each viewer may read.
type PosterService struct {
	posters  repository.PosterRepository
	archive  repository.ArchivedPosterRepository
	images   PosterImages
	notifier PostNotifier
	cache    FeedInvalidator
	clock    utils.Clock
	logger   *slog.Logger
}

// NewPosterService creates a new poster service.  notifier and cache may
// be nil.
func NewPosterService(
	posters repository.PosterRepository,
	archive repository.ArchivedPosterRepository,
	images PosterImages,
	notifier PostNotifier,
	cache FeedInvalidator,
	clock utils.Clock,
	logger *slog.Logger,
) *PosterService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &PosterService{
		posters:  posters,
		archive:  archive,
		images:   images,
		notifier: notifier,
		cache:    cache,
		clock:    clock,
		logger:   logger,
	}
}

// Create stores a new live poster.  Public and community posters are
// announced after they are committed.
func (s *PosterService) Create(ctx context.Context, in CreatePosterInput) (*model.Poster, error) {
	privacy := model.PrivacyPrivate
	if in.Privacy != "" {
		p, ok := model.ParsePrivacy(in.Privacy)
		if !ok {
			return nil, apperror.ErrInvalidPrivacy
		}
		privacy = p
	}
	if in.Owner == "" {
		return nil, apperror.ErrLoginRequired
	}

	var imgs []model.Image
	if len(in.Images) > 0 {
		stored, err := s.images.Store(ctx, in.Owner, in.Images)
		if err != nil {
			return nil, err
		}
		imgs = stored
	}

	p := &model.Poster{
		Username:  in.Owner,
		Message:   in.Message,
		Privacy:   privacy,
		CreatedAt: s.clock.Now(),
		Images:    imgs,
	}
	if err := s.posters.Create(ctx, p); err != nil {
		s.images.RemoveFiles(ctx, imgs)
		return nil, apperror.Internal(fmt.Errorf("create poster: %w", err))
	}
	metrics.PosterTransitions.WithLabelValues("created").Inc()

	s.logger.InfoContext(ctx, "poster created",
		slog.Uint64("poster_id", p.ID),
		slog.String("username", p.Username),
		slog.String("privacy", string(p.Privacy)),
		slog.Int("images", len(p.Images)),
	)

	s.invalidate(ctx)
	if privacy.Broadcast() && s.notifier != nil {
		if err := s.notifier.NotifyNewPost(ctx, p.Username); err != nil {
			s.logger.WarnContext(ctx, "failed to notify new poster",
				slog.Uint64("poster_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// Edit applies a partial update to a live poster owned by requester.
// Uploads are validated and written before the poster row is touched, and
// text and image changes are committed together, so a failed edit leaves
// the poster as it was.
func (s *PosterService) Edit(ctx context.Context, id uint64, requester string, in EditPosterInput) (*model.Poster, error) {
	var privacy model.Privacy
	if in.Privacy != nil {
		p, ok := model.ParsePrivacy(*in.Privacy)
		if !ok {
			return nil, apperror.ErrInvalidPrivacy
		}
		privacy = p
	}

	p, err := s.loadOwned(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if p.IsDeleted {
		return nil, apperror.ErrAlreadyDeleted
	}

	changed := false
	if in.Message != nil && *in.Message != p.Message {
		p.Message = *in.Message
		changed = true
	}
	if in.Privacy != nil && privacy != p.Privacy {
		p.Privacy = privacy
		changed = true
	}

	var stored []model.Image
	if in.Images != nil {
		if stored, err = s.images.Store(ctx, requester, in.Images); err != nil {
			return nil, err
		}
		changed = true
	}

	if changed {
		removed, err := s.posters.Update(ctx, p, stored)
		if err != nil {
			s.images.RemoveFiles(ctx, stored)
			if errors.Is(err, repository.ErrConflict) {
				return nil, apperror.ErrAlreadyDeleted
			}
			return nil, s.mapStoreErr("update poster", err)
		}
		s.images.RemoveFiles(ctx, removed)
		if stored != nil {
			p.Images = stored
		}

		metrics.PosterTransitions.WithLabelValues("edited").Inc()
		s.invalidate(ctx)
	}
	return p, nil
}

// Delete moves a live poster to the trash.
func (s *PosterService) Delete(ctx context.Context, id uint64, requester string) error {
	p, err := s.loadOwned(ctx, id, requester)
	if err != nil {
		return err
	}
	if p.IsDeleted {
		return apperror.ErrAlreadyDeleted
	}
	if err := s.posters.SoftDelete(ctx, id, s.clock.Now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperror.ErrAlreadyDeleted
		}
		return s.mapStoreErr("soft delete poster", err)
	}
	metrics.PosterTransitions.WithLabelValues("trashed").Inc()
	s.logger.InfoContext(ctx, "poster moved to trash", slog.Uint64("poster_id", id))
	s.invalidate(ctx)
	return nil
}

// Restore takes a trashed poster back out of the trash.
func (s *PosterService) Restore(ctx context.Context, id uint64, requester string) (*model.Poster, error) {
	p, err := s.loadOwned(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if !p.IsDeleted {
		return nil, apperror.ErrNotDeleted
	}
	if err := s.posters.Restore(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperror.ErrNotDeleted
		}
		return nil, s.mapStoreErr("restore poster", err)
	}
	p.IsDeleted = false
	p.DeletedAt = nil
	metrics.PosterTransitions.WithLabelValues("restored").Inc()
	s.logger.InfoContext(ctx, "poster restored", slog.Uint64("poster_id", id))
	s.invalidate(ctx)
	return p, nil
}

// HardDelete archives and permanently removes a trashed poster.  A live
// poster must be trashed first.
func (s *PosterService) HardDelete(ctx context.Context, id uint64, requester string) (*model.ArchivedPoster, error) {
	p, err := s.loadOwned(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if !p.IsDeleted {
		return nil, apperror.ErrNotYetSoftDeleted
	}
	archived, removed, err := s.posters.ArchiveAndHardDelete(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperror.ErrNotYetSoftDeleted
		}
		return nil, s.mapStoreErr("archive poster", err)
	}
	s.images.RemoveFiles(ctx, removed)
	metrics.PosterTransitions.WithLabelValues("archived").Inc()
	s.logger.InfoContext(ctx, "poster archived and removed",
		slog.Uint64("poster_id", id),
		slog.Uint64("archive_id", archived.ID),
	)
	return archived, nil
}

// HardDeleteAllTrash purges every trashed poster of requester and returns
// how many were purged.  Each poster is archived and removed on its own;
// a failure part way leaves the remaining posters in the trash.
func (s *PosterService) HardDeleteAllTrash(ctx context.Context, requester string) (int, error) {
	count, removed, err := s.posters.ArchiveAndHardDeleteAllDeleted(ctx, requester, s.clock.Now())
	s.images.RemoveFiles(ctx, removed)
	if count > 0 {
		metrics.PosterTransitions.WithLabelValues("archived").Add(float64(count))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "emptying trash stopped early",
			slog.String("username", requester),
			slog.Int("purged", count),
			slog.String("error", err.Error()),
		)
		return count, apperror.Internal(fmt.Errorf("empty trash: %w", err))
	}
	s.logger.InfoContext(ctx, "trash emptied",
		slog.String("username", requester),
		slog.Int("purged", count),
	)
	return count, nil
}

// ListVisible returns one page of the feed for viewer, newest first.  An
// empty viewer is anonymous.
func (s *PosterService) ListVisible(ctx context.Context, viewer string, limit, offset int) ([]model.Poster, error) {
	limit, offset = ClampPage(limit, offset)
	ps, err := s.posters.ListVisible(ctx, repository.VisibilityQuery{
		Viewer: viewer,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list feed: %w", err))
	}
	return ps, nil
}

// GetDetail returns one poster if viewer may read it.  Trashed posters
// are reported as missing.
func (s *PosterService) GetDetail(ctx context.Context, id uint64, viewer string) (*model.Poster, error) {
	p, err := s.posters.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr("get poster", err)
	}
	if p.IsDeleted {
		return nil, apperror.ErrPosterNotFound
	}
	switch p.Privacy {
	case model.PrivacyPublic:
		return p, nil
	case model.PrivacyCommunity:
		if viewer == "" {
			return nil, apperror.ErrLoginRequired
		}
		return p, nil
	default:
		if viewer == "" {
			return nil, apperror.ErrLoginRequired
		}
		if !p.OwnedBy(viewer) {
			return nil, apperror.ErrUnavailableForLegalReasons
		}
		return p, nil
	}
}

// ListOwn returns username's live posters.
func (s *PosterService) ListOwn(ctx context.Context, username string) ([]model.Poster, error) {
	ps, err := s.posters.ListByUsername(ctx, username)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list own posters: %w", err))
	}
	return ps, nil
}

// ListTrash returns username's trashed posters.
func (s *PosterService) ListTrash(ctx context.Context, username string) ([]model.Poster, error) {
	ps, err := s.posters.ListDeleted(ctx, username)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list trash: %w", err))
	}
	return ps, nil
}

// ListArchived returns the snapshots of username's purged posters.
func (s *PosterService) ListArchived(ctx context.Context, username string) ([]model.ArchivedPoster, error) {
	as, err := s.archive.ListByUsername(ctx, username)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list archive: %w", err))
	}
	return as, nil
}

// ClampPage applies the feed paging bounds.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultFeedLimit
	case limit > MaxFeedLimit:
		limit = MaxFeedLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// loadOwned fetches a poster and checks requester owns it.  Missing comes
// before not-owner so that ownership is never revealed for absent ids.
func (s *PosterService) loadOwned(ctx context.Context, id uint64, requester string) (*model.Poster, error) {
	p, err := s.posters.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr("get poster", err)
	}
	if !p.OwnedBy(requester) {
		return nil, apperror.ErrNotOwner
	}
	return p, nil
}

func (s *PosterService) mapStoreErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.ErrPosterNotFound
	}
	return apperror.Internal(fmt.Errorf("%s: %w", op, err))
}

func (s *PosterService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate feed cache", slog.String("error", err.Error()))
	}
}
