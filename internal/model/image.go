package model

import "time"

// Image mirrors the `images` table. Filename is the primary key; PosterID
// is nil for images uploaded outside a poster.
type Image struct {
	Filename         string
	OriginalFilename string
	Username         string
	FilePath         string
	FileSize         int64
	ContentType      string
	UploadedAt       time.Time
	PosterID         *uint64
}
