package model

import (
	"strings"
	"time"
)

// Privacy is the visibility tier of a poster.
type Privacy string

const (
	PrivacyPublic    Privacy = "public"    // anyone
	PrivacyCommunity Privacy = "community" // any authenticated user
	PrivacyPrivate   Privacy = "private"   // owner only
)

// ParsePrivacy maps a raw value onto a known tier. The empty string is
// not accepted here; callers decide on defaults.
func ParsePrivacy(raw string) (Privacy, bool) {
	switch Privacy(strings.ToLower(strings.TrimSpace(raw))) {
	case PrivacyPublic:
		return PrivacyPublic, true
	case PrivacyCommunity:
		return PrivacyCommunity, true
	case PrivacyPrivate:
		return PrivacyPrivate, true
	}
	return "", false
}

// Broadcast reports whether new posters of this tier are announced to
// connected clients.
func (p Privacy) Broadcast() bool {
	return p == PrivacyPublic || p == PrivacyCommunity
}

// Poster mirrors the `posters` table together with its linked images.
// DeletedAt is non-nil exactly when IsDeleted is true.
type Poster struct {
	ID        uint64
	Username  string
	Message   string
	Privacy   Privacy
	CreatedAt time.Time
	IsDeleted bool
	DeletedAt *time.Time
	Images    []Image
}

// OwnedBy reports whether username owns the poster.
func (p *Poster) OwnedBy(username string) bool {
	return username != "" && p.Username == username
}

// ArchivedPoster is the metadata snapshot left behind when a trashed
// poster is permanently removed. Rows are never updated.
type ArchivedPoster struct {
	ID                uint64
	OriginalID        uint64
	Username          string
	Message           string
	OriginalImagePath string
	ImageFilename     string
	CreatedAt         time.Time
	DeletedAt         time.Time
	ArchivedAt        time.Time
	Privacy           Privacy
}

// NewArchivedPoster snapshots p at archivedAt. Only the first image is
// recorded; a poster without images archives empty path and filename.
func NewArchivedPoster(p *Poster, archivedAt time.Time) *ArchivedPoster {
	a := &ArchivedPoster{
		OriginalID: p.ID,
		Username:   p.Username,
		Message:    p.Message,
		CreatedAt:  p.CreatedAt,
		DeletedAt:  archivedAt,
		ArchivedAt: archivedAt,
		Privacy:    p.Privacy,
	}
	if p.DeletedAt != nil {
		a.DeletedAt = *p.DeletedAt
	}
	if len(p.Images) > 0 {
		a.OriginalImagePath = p.Images[0].FilePath
		a.ImageFilename = p.Images[0].Filename
	}
	return a
}
