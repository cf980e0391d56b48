package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/wolfeidau/quickzip"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildkite/pkgsign/internal/paths"
	"github.com/buildkite/pkgsign/internal/trace"
)

// ListArchive returns the entry names of the zip file.
func ListArchive(ctx context.Context, zipFile *os.File, zipFileLen int64) ([]string, error) {
	_, span := trace.Start(ctx, "ListArchive")
	defer span.End()

	reader, err := zip.NewReader(zipFile, zipFileLen)
	if err != nil {
		return nil, trace.NewError(span, "failed to open zip reader: %w", err)
	}

	entries := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		entries = append(entries, f.Name)
	}

	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	return entries, nil
}

// ExtractArchive extracts every entry of the zip file under destDir. Entries
// that would land outside destDir are rejected.
func ExtractArchive(ctx context.Context, zipFile *os.File, zipFileLen int64, destDir string) (*ArchiveInfo, error) {
	ctx, span := trace.Start(ctx, "ExtractArchive")
	defer span.End()

	start := time.Now()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, trace.NewError(span, "failed to resolve destination: %w", err)
	}

	extract, err := quickzip.NewExtractorFromReader(zipFile, zipFileLen)
	if err != nil {
		return nil, trace.NewError(span, "failed to create extractor: %w", err)
	}

	err = extract.ExtractWithPathMapper(ctx, func(file *zip.File) (string, error) {
		target, ok := paths.Resolve(root, file.Name)
		if !ok {
			return "", fmt.Errorf("entry escapes destination: %s", file.Name)
		}
		return target, nil
	})
	if err != nil {
		return nil, trace.NewError(span, "failed to extract zip file: %w", err)
	}

	bytesExtracted, countExtracted := extract.Written()

	span.SetAttributes(
		attribute.Int64("zip_file_len", zipFileLen),
		attribute.Int64("files_extracted", countExtracted),
		attribute.Int64("bytes_extracted", bytesExtracted),
	)

	return &ArchiveInfo{
		ArchivePath:    zipFile.Name(),
		Size:           zipFileLen,
		WrittenBytes:   bytesExtracted,
		WrittenEntries: countExtracted,
		Duration:       time.Since(start),
	}, nil
}
