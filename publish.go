package pkgsign

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/buildkite/pkgsign/artifact"
	"github.com/buildkite/pkgsign/internal/archive"
	"github.com/buildkite/pkgsign/internal/store"
	"github.com/buildkite/pkgsign/sas"
)

// Publish zips, uploads and signs one artifact by ID.
//
// The function performs the following workflow:
//  1. Builds a zip of the artifact's distribution directory
//  2. Uploads it to the container with content type application/zip
//  3. Derives a read URL for the uploaded blob valid for window
//
// The temporary archive is always removed. The window is validated before
// any work is done so a bad window never leaves an unsigned upload behind.
//
// Progress callbacks (if configured) are invoked with the stages
// "building_archive", "uploading", "signing", "complete".
//
// Example:
//
//	result, err := publisher.Publish(ctx, "api", sas.NewAccessWindow(time.Now(), time.Hour))
//	if err != nil {
//	    log.Fatalf("publish failed: %v", err)
//	}
//	fmt.Printf("%s=%s\n", result.Setting.Name, result.Setting.Value)
func (p *Publisher) Publish(ctx context.Context, id string, window sas.AccessWindow) (PublishResult, error) {
	tracer := otel.Tracer("github.com/buildkite/pkgsign")
	ctx, span := tracer.Start(ctx, "Publisher.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("artifact.id", id),
		attribute.String("artifact.account", p.account),
		attribute.String("artifact.container", p.container),
	)

	startTime := time.Now()
	result := PublishResult{ID: id, Window: window}

	a, err := p.findArtifact(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to find artifact configuration")
		return result, err
	}

	if err := window.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid access window")
		return result, err
	}

	result.Blob = store.FullKey(p.prefix, a.Blob)
	result.Setting.Name = a.AppSetting

	p.callProgress(id, "building_archive", fmt.Sprintf("Building archive of %s", a.Path))

	archiveInfo, err := archive.BuildArchive(ctx, a.Path, a.Exclude, a.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build archive")
		return result, fmt.Errorf("failed to build archive: %w", err)
	}
	defer func() {
		if err := os.Remove(archiveInfo.ArchivePath); err != nil {
			log.Warn().Err(err).Str("path", archiveInfo.ArchivePath).Msg("failed to remove archive")
		}
	}()

	result.Archive = ArchiveMetrics{
		Size:             archiveInfo.Size,
		WrittenBytes:     archiveInfo.WrittenBytes,
		WrittenEntries:   archiveInfo.WrittenEntries,
		CompressionRatio: archiveInfo.CompressionRatio(),
		Sha256Sum:        archiveInfo.Sha256sum,
		Duration:         archiveInfo.Duration,
	}

	span.SetAttributes(
		attribute.Int64("artifact.archive_size_bytes", archiveInfo.Size),
		attribute.Int64("artifact.written_entries", archiveInfo.WrittenEntries),
		attribute.String("artifact.sha256sum", archiveInfo.Sha256sum),
	)

	p.callProgress(id, "uploading", fmt.Sprintf("Uploading %s", result.Blob))

	transferInfo, err := p.upload(ctx, archiveInfo, a.Blob)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive")
		return result, fmt.Errorf("failed to upload archive: %w", err)
	}

	result.Blob = transferInfo.Key
	result.Transfer = TransferMetrics{
		BytesTransferred: transferInfo.BytesTransferred,
		TransferSpeed:    transferInfo.TransferSpeed,
		Duration:         transferInfo.Duration,
	}

	span.SetAttributes(
		attribute.String("artifact.blob", transferInfo.Key),
		attribute.Float64("artifact.transfer_speed_mbps", transferInfo.TransferSpeed),
	)

	p.callProgress(id, "signing", fmt.Sprintf("Deriving read URL for %s", result.Blob))

	url, err := p.deriver.DeriveReadURL(ctx, sas.BlobLocator{
		AccountName:   p.account,
		ContainerName: p.container,
		BlobName:      transferInfo.Key,
	}, window)
	if err != nil {
		// the blob stays in the container, re-sign it with `pkgsign sign`
		log.Warn().Err(err).
			Str("id", id).
			Str("container", p.container).
			Str("blob", transferInfo.Key).
			Msg("blob uploaded but not signed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to derive read url")
		return result, fmt.Errorf("failed to derive read url: %w", err)
	}

	result.URL = url
	result.Setting.Value = url.String()
	result.TotalDuration = time.Since(startTime)

	span.SetAttributes(attribute.Int64("artifact.duration_ms", result.TotalDuration.Milliseconds()))
	span.SetStatus(codes.Ok, "artifact published")

	p.callProgress(id, "complete", "Artifact published")

	return result, nil
}

// PublishAll publishes every configured artifact concurrently.
//
// Results are returned in configuration order. The first failure cancels the
// remaining publishes and is returned.
func (p *Publisher) PublishAll(ctx context.Context, window sas.AccessWindow) ([]PublishResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	results := make([]PublishResult, len(p.artifacts))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range p.artifacts {
		g.Go(func() error {
			result, err := p.Publish(gctx, a.ID, window)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", a.ID, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Sign derives a read URL for a blob already in the container. The blob name
// is joined with the configured prefix. Existence is not checked.
func (p *Publisher) Sign(ctx context.Context, blob string, window sas.AccessWindow) (sas.SignedURL, error) {
	return p.deriver.DeriveReadURL(ctx, p.Locator(blob), window)
}

func (p *Publisher) upload(ctx context.Context, archiveInfo *archive.ArchiveInfo, blob string) (*store.TransferInfo, error) {
	blobStore, err := store.NewGocloudBlob(ctx, p.bucketURL, p.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	defer blobStore.Close()

	return blobStore.Upload(ctx, archiveInfo.ArchivePath, blob, store.UploadOptions{
		ContentType: artifact.ContentType,
		Metadata: map[string]string{
			"sha256": archiveInfo.Sha256sum,
		},
	})
}
