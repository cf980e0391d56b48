package store

import (
	"context"
)

// Blob interface defines the operations for blob storage
type Blob interface {
	// Upload uploads a file to blob storage
	Upload(ctx context.Context, filePath string, key string, opts UploadOptions) (*TransferInfo, error)

	// Download downloads a file from blob storage
	Download(ctx context.Context, key string, destPath string) (*TransferInfo, error)

	// Exists reports whether the key is present
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadOptions are attributes stored with an uploaded blob.
type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}
