package archive

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildkite/pkgsign/internal/paths"
	"github.com/buildkite/pkgsign/internal/trace"
)

type ArchiveInfo struct {
	ArchivePath    string
	Size           int64
	Sha256sum      string
	WrittenBytes   int64
	WrittenEntries int64
	Duration       time.Duration
}

// CompressionRatio is the uncompressed content size over the archive size.
func (a *ArchiveInfo) CompressionRatio() float64 {
	if a.Size == 0 {
		return 0.0
	}
	return float64(a.WrittenBytes) / float64(a.Size)
}

// BuildArchive zips the contents of srcDir into a temporary file. Entries are
// stored relative to srcDir so the archive root is the application root, as
// run-from-package expects. Paths matching any exclude pattern (doublestar
// syntax, relative to srcDir) are skipped.
func BuildArchive(ctx context.Context, srcDir string, excludes []string, name string) (*ArchiveInfo, error) {
	ctx, span := trace.Start(ctx, "BuildArchive")
	defer span.End()

	start := time.Now()

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, trace.NewError(span, "invalid exclude pattern: %q", pattern)
		}
	}

	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, trace.NewError(span, "failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, trace.NewError(span, "source is not a directory: %s", srcDir)
	}

	archiveFile, err := os.CreateTemp("", fmt.Sprintf("%s-*.zip", filepath.Base(name)))
	if err != nil {
		return nil, trace.NewError(span, "failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	hash := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(archiveFile, hash))

	var writtenBytes, writtenEntries int64

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, ok := paths.RelPathCheck(srcDir, path)
		if !ok {
			return fmt.Errorf("path %s is outside of %s", path, srcDir)
		}
		if rel == "." {
			return nil
		}

		if excluded(rel, excludes) {
			log.Debug().Str("path", rel).Msg("excluding path from archive")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() && !d.Type().IsRegular() {
			log.Debug().Str("path", rel).Msg("skipping non regular file")
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		header.Name = rel
		if d.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
			header.UncompressedSize64 = 0
		} else {
			header.Method = zip.Deflate
		}

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		writtenEntries++

		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := io.Copy(w, f)
		if err != nil {
			return err
		}
		writtenBytes += n

		return nil
	})
	if err != nil {
		_ = os.Remove(archiveFile.Name())
		return nil, trace.NewError(span, "failed to archive %s: %w", srcDir, err)
	}

	if err := zw.Close(); err != nil {
		_ = os.Remove(archiveFile.Name())
		return nil, trace.NewError(span, "failed to close archive: %w", err)
	}

	stat, err := archiveFile.Stat()
	if err != nil {
		return nil, trace.NewError(span, "failed to stat archive: %w", err)
	}

	span.SetAttributes(
		attribute.String("src_dir", srcDir),
		attribute.Int64("size", stat.Size()),
		attribute.Int64("entries", writtenEntries),
	)

	return &ArchiveInfo{
		ArchivePath:    archiveFile.Name(),
		Size:           stat.Size(),
		Sha256sum:      fmt.Sprintf("%x", hash.Sum(nil)),
		WrittenBytes:   writtenBytes,
		WrittenEntries: writtenEntries,
		Duration:       time.Since(start),
	}, nil
}

func excluded(rel string, excludes []string) bool {
	for _, pattern := range excludes {
		// patterns were validated up front
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
