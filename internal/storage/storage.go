// Package storage defines the Storage interface and common types for the blob
// backends that hold migration payloads and tenant data backups.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    factory.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// This means adding a new backend requires no changes to the factory or main
// package — only a blank import in cmd/server/main.go.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage defines the interface for all blob storage backends. Objects here
// are small text documents (SQL payloads, JSON backup exports), so every
// operation works on whole objects.
type Storage interface {
	// Upload stores an object and returns the storage result with path and checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves an object and returns a reader
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object from storage
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves object metadata without downloading the object
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	// Path is the storage path of the object
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string

	// LastModified is the timestamp when the object was last modified
	LastModified time.Time
}
