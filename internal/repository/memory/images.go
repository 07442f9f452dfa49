package memory

import (
	"context"
	"sort"

	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/repository"
)

type imageRepo struct{ s *Store }

func (r imageRepo) Create(_ context.Context, img *model.Image) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.images[img.Filename]; ok {
		return repository.ErrConflict
	}
	r.s.putImage(*img, 0)
	return nil
}

func (r imageRepo) GetByFilename(_ context.Context, filename string) (*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	si, ok := r.s.images[filename]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyImage(si.img)
	return &out, nil
}

func (r imageRepo) ListByUsername(_ context.Context, username string) ([]model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []storedImage
	for _, si := range r.s.images {
		if si.img.Username == username {
			rows = append(rows, si)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].img.UploadedAt.Equal(rows[j].img.UploadedAt) {
			return rows[i].img.UploadedAt.After(rows[j].img.UploadedAt)
		}
		return rows[i].img.Filename < rows[j].img.Filename
	})
	out := make([]model.Image, 0, len(rows))
	for _, si := range rows {
		out = append(out, copyImage(si.img))
	}
	return out, nil
}

func (r imageRepo) ListByPoster(_ context.Context, posterID uint64) ([]model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.hydrate(model.Poster{ID: posterID}).Images, nil
}

// replaceImages swaps a poster's image rows and returns the removed ones.
// It must be called with mu held.
func (s *Store) replaceImages(posterID uint64, next []model.Image) ([]model.Image, error) {
	removed := s.hydrate(model.Poster{ID: posterID}).Images
	gone := make(map[string]bool, len(removed))
	for _, img := range removed {
		gone[img.Filename] = true
	}
	for _, img := range next {
		if _, ok := s.images[img.Filename]; ok && !gone[img.Filename] {
			return nil, repository.ErrConflict
		}
	}
	for name := range gone {
		delete(s.images, name)
	}
	for i := range next {
		next[i].PosterID = &posterID
		s.putImage(next[i], i)
	}
	return removed, nil
}

func (r imageRepo) Delete(_ context.Context, filename string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.images[filename]
	delete(r.s.images, filename)
	return ok, nil
}

// putImage must be called with mu held.
func (s *Store) putImage(img model.Image, position int) {
	s.imageSeq++
	s.images[img.Filename] = storedImage{img: copyImage(img), position: position, seq: s.imageSeq}
}

func copyImage(img model.Image) model.Image {
	if img.PosterID != nil {
		id := *img.PosterID
		img.PosterID = &id
	}
	return img
}
