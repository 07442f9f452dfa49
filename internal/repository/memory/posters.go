package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
)

type posterRepo struct{ s *Store }

func (r posterRepo) Create(_ context.Context, p *model.Poster) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, img := range p.Images {
		if _, ok := r.s.images[img.Filename]; ok {
			return repository.ErrConflict
		}
	}
	r.s.nextPosterID++
	p.ID = r.s.nextPosterID
	for i := range p.Images {
		p.Images[i].PosterID = &p.ID
		r.s.putImage(p.Images[i], i)
	}
	stored := *p
	stored.Images = nil
	r.s.posters[p.ID] = copyPoster(stored)
	return nil
}

func (r posterRepo) GetByID(_ context.Context, id uint64) (*model.Poster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := r.s.hydrate(p)
	return &out, nil
}

func (r posterRepo) ListByUsername(_ context.Context, username string) ([]model.Poster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.s.filterPosters(func(p model.Poster) bool {
		return p.Username == username && !p.IsDeleted
	})
	sortNewestFirst(out)
	return out, nil
}

func (r posterRepo) ListVisible(_ context.Context, q repository.VisibilityQuery) ([]model.Poster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.s.filterPosters(func(p model.Poster) bool {
		if p.IsDeleted {
			return false
		}
		if q.Viewer == "" {
			return p.Privacy == model.PrivacyPublic
		}
		return p.Privacy == model.PrivacyPublic || p.Privacy == model.PrivacyCommunity || p.Username == q.Viewer
	})
	sortNewestFirst(out)
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit >= 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r posterRepo) Update(_ context.Context, p *model.Poster, images []model.Image) ([]model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.posters[p.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if cur.IsDeleted {
		return nil, repository.ErrConflict
	}
	var removed []model.Image
	if images != nil {
		var err error
		if removed, err = r.s.replaceImages(p.ID, images); err != nil {
			return nil, err
		}
	}
	cur.Message = p.Message
	cur.Privacy = p.Privacy
	r.s.posters[p.ID] = cur
	return removed, nil
}

func (r posterRepo) SoftDelete(_ context.Context, id uint64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posters[id]
	if !ok {
		return repository.ErrNotFound
	}
	if p.IsDeleted {
		return repository.ErrConflict
	}
	p.IsDeleted = true
	p.DeletedAt = &at
	r.s.posters[id] = p
	return nil
}

func (r posterRepo) Restore(_ context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posters[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !p.IsDeleted {
		return repository.ErrConflict
	}
	p.IsDeleted = false
	p.DeletedAt = nil
	r.s.posters[id] = p
	return nil
}

func (r posterRepo) ListDeleted(_ context.Context, username string) ([]model.Poster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.s.filterPosters(func(p model.Poster) bool {
		return p.Username == username && p.IsDeleted
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DeletedAt.Equal(*out[j].DeletedAt) {
			return out[i].DeletedAt.After(*out[j].DeletedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r posterRepo) ArchiveAndHardDelete(_ context.Context, id uint64, at time.Time) (*model.ArchivedPoster, []model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.archiveAndPurge(id, at)
}

func (r posterRepo) ArchiveAndHardDeleteAllDeleted(_ context.Context, username string, at time.Time) (int, []model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uint64
	for id, p := range r.s.posters {
		if p.Username == username && p.IsDeleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		count   int
		removed []model.Image
	)
	for _, id := range ids {
		_, imgs, err := r.s.archiveAndPurge(id, at)
		if err != nil {
			return count, removed, err
		}
		count++
		removed = append(removed, imgs...)
	}
	return count, removed, nil
}

// archiveAndPurge must be called with mu held.
func (s *Store) archiveAndPurge(id uint64, at time.Time) (*model.ArchivedPoster, []model.Image, error) {
	p, ok := s.posters[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	if !p.IsDeleted {
		return nil, nil, repository.ErrConflict
	}
	full := s.hydrate(p)
	a := model.NewArchivedPoster(&full, at)
	if err := s.insertArchived(a); err != nil {
		return nil, nil, err
	}
	for _, img := range full.Images {
		delete(s.images, img.Filename)
	}
	delete(s.posters, id)
	return a, full.Images, nil
}

// hydrate attaches images in attachment order.  Must be called with mu held.
func (s *Store) hydrate(p model.Poster) model.Poster {
	out := copyPoster(p)
	var rows []storedImage
	for _, si := range s.images {
		if si.img.PosterID != nil && *si.img.PosterID == p.ID {
			rows = append(rows, si)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].position != rows[j].position {
			return rows[i].position < rows[j].position
		}
		return rows[i].seq < rows[j].seq
	})
	out.Images = nil
	for _, si := range rows {
		out.Images = append(out.Images, copyImage(si.img))
	}
	return out
}

func (s *Store) filterPosters(keep func(model.Poster) bool) []model.Poster {
	var out []model.Poster
	for _, p := range s.posters {
		if keep(p) {
			out = append(out, s.hydrate(p))
		}
	}
	return out
}

func sortNewestFirst(ps []model.Poster) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

func copyPoster(p model.Poster) model.Poster {
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		p.DeletedAt = &t
	}
	if p.Images != nil {
		imgs := make([]model.Image, len(p.Images))
		for i, img := range p.Images {
			imgs[i] = copyImage(img)
		}
		p.Images = imgs
	}
	return p
}

// ---- archive

type archiveRepo struct{ s *Store }

func (r archiveRepo) Create(_ context.Context, a *model.ArchivedPoster) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertArchived(a)
}

func (r archiveRepo) ListByUsername(_ context.Context, username string) ([]model.ArchivedPoster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ArchivedPoster
	for _, a := range r.s.archived {
		if a.Username == username {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].ArchivedAt.After(out[j].ArchivedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r archiveRepo) GetByOriginalID(_ context.Context, originalID uint64) (*model.ArchivedPoster, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.archived[originalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

// insertArchived must be called with mu held.
func (s *Store) insertArchived(a *model.ArchivedPoster) error {
	if s.FailArchive != nil {
		err := s.FailArchive
		s.FailArchive = nil
		return err
	}
	if _, ok := s.archived[a.OriginalID]; ok {
		return repository.ErrConflict
	}
	s.nextArchiveID++
	a.ID = s.nextArchiveID
	s.archived[a.OriginalID] = *a
	return nil
}
