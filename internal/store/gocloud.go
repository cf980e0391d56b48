package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buildkite/pkgsign/internal/trace"
	"go.opentelemetry.io/otel/attribute"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob" // Azure Blob Storage driver
	_ "gocloud.dev/blob/fileblob"  // Local file driver for testing
)

// GocloudBlob implements the Blob interface using gocloud.dev
type GocloudBlob struct {
	bucket *blob.Bucket
	prefix string
}

// Ensure GocloudBlob implements the Blob interface
var _ Blob = (*GocloudBlob)(nil)

// NewGocloudBlob creates a new GocloudBlob instance using a bucket URL and prefix
// For Azure: "azblob://container?storage_account=account"
// For local development: "file:///path/to/directory"
func NewGocloudBlob(ctx context.Context, bucketURL, prefix string) (*GocloudBlob, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket: %w", err)
	}

	return &GocloudBlob{
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}, nil
}

// AzureBucketURL returns the gocloud URL of an Azure container.
func AzureBucketURL(account, container string) string {
	return fmt.Sprintf("azblob://%s?storage_account=%s", container, account)
}

// Close closes the underlying bucket connection
func (b *GocloudBlob) Close() error {
	return b.bucket.Close()
}

// Upload uploads a file to blob storage as a block blob
func (b *GocloudBlob) Upload(ctx context.Context, filePath string, key string, opts UploadOptions) (*TransferInfo, error) {
	ctx, span := trace.Start(ctx, "GocloudBlob.Upload")
	defer span.End()

	start := time.Now()

	fullKey := FullKey(b.prefix, key)

	file, err := os.Open(filePath)
	if err != nil {
		return nil, trace.NewError(span, "failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	// cancelling the writer's context aborts the upload instead of committing it
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer, err := b.bucket.NewWriter(writeCtx, fullKey, &blob.WriterOptions{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return nil, trace.NewError(span, "failed to create blob writer: %w", err)
	}

	bytesWritten, err := io.Copy(writer, file)
	if err != nil {
		cancel()
		_ = writer.Close()
		return nil, trace.NewError(span, "failed to copy file to blob: %w", err)
	}

	// Close the writer to commit the upload
	if err := writer.Close(); err != nil {
		return nil, trace.NewError(span, "failed to close blob writer: %w", err)
	}

	duration := time.Since(start)
	averageSpeed := calculateTransferSpeedMBps(bytesWritten, duration)

	span.SetAttributes(
		attribute.Int64("bytes_transferred", bytesWritten),
		attribute.String("transfer_speed", fmt.Sprintf("%.2fMB/s", averageSpeed)),
		attribute.String("blob_key", fullKey),
	)

	return &TransferInfo{
		Key:              fullKey,
		BytesTransferred: bytesWritten,
		TransferSpeed:    averageSpeed,
		Duration:         duration,
	}, nil
}

// Download downloads a file from blob storage
func (b *GocloudBlob) Download(ctx context.Context, key string, destPath string) (*TransferInfo, error) {
	ctx, span := trace.Start(ctx, "GocloudBlob.Download")
	defer span.End()

	start := time.Now()

	fullKey := FullKey(b.prefix, key)

	reader, err := b.bucket.NewReader(ctx, fullKey, nil)
	if err != nil {
		return nil, trace.NewError(span, "failed to create blob reader: %w", err)
	}
	defer reader.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return nil, trace.NewError(span, "failed to create destination file %s: %w", destPath, err)
	}
	defer destFile.Close()

	bytesWritten, err := io.Copy(destFile, reader)
	if err != nil {
		return nil, trace.NewError(span, "failed to copy blob to file: %w", err)
	}

	duration := time.Since(start)
	averageSpeed := calculateTransferSpeedMBps(bytesWritten, duration)

	span.SetAttributes(
		attribute.Int64("bytes_transferred", bytesWritten),
		attribute.String("transfer_speed", fmt.Sprintf("%.2fMB/s", averageSpeed)),
		attribute.String("blob_key", fullKey),
	)

	return &TransferInfo{
		Key:              fullKey,
		BytesTransferred: bytesWritten,
		TransferSpeed:    averageSpeed,
		Duration:         duration,
	}, nil
}

// Exists reports whether the key is present in the bucket
func (b *GocloudBlob) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := trace.Start(ctx, "GocloudBlob.Exists")
	defer span.End()

	exists, err := b.bucket.Exists(ctx, FullKey(b.prefix, key))
	if err != nil {
		return false, trace.NewError(span, "failed to check blob: %w", err)
	}

	return exists, nil
}
