package storage

import (
	"context"
	"io"
)

// Storage defines the interface for image file storage.
type Storage interface {
	// Upload stores a file and returns the result with key and URL.
	Upload(ctx context.Context, input *UploadInput) (*UploadResult, error)

	// Delete removes a file by its key.  Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for the given key.
	URL(key string) string
}

// UploadInput holds the parameters for uploading a file.
type UploadInput struct {
	Key         string
	ContentType string
	Size        int64
	Data        io.Reader
}

// UploadResult holds the result of a successful upload.
type UploadResult struct {
	Key  string
	URL  string
	Size int64
}
