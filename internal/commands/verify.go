package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildkite/pkgsign/internal/archive"
	"github.com/buildkite/pkgsign/internal/fetch"
	"github.com/buildkite/pkgsign/internal/trace"
)

type VerifyCmd struct {
	URL       string `arg:"" name:"url" help:"Signed URL of a published package."`
	Sha256    string `flag:"sha256" help:"Expected SHA-256 of the package."`
	ExtractTo string `flag:"extract-to" help:"Extract the package into this directory."`
}

func (cmd *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, span := trace.Start(ctx, "VerifyCmdRun")
	defer span.End()

	log.Info().Str("version", globals.Version).Msg("Running VerifyCmd")

	span.SetAttributes(attribute.Bool("extract", cmd.ExtractTo != ""))

	tmpDir, err := os.MkdirTemp("", "pkgsign-verify")
	if err != nil {
		return trace.NewError(span, "failed to create temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	globals.Printer.Info("⬇️", "Downloading package...")

	packagePath := filepath.Join(tmpDir, "package.zip")

	res, err := fetch.NewClient(globals.Version).Download(ctx, cmd.URL, packagePath)
	if err != nil {
		return trace.NewError(span, "failed to download package: %w", err)
	}

	globals.Printer.Success("✅", "Downloaded %s in %s", humanize.Bytes(Int64ToUint64(res.Bytes)), res.Duration)

	zipFile, err := os.Open(packagePath)
	if err != nil {
		return trace.NewError(span, "failed to open package: %w", err)
	}
	defer zipFile.Close()

	sum, err := sha256sum(zipFile)
	if err != nil {
		return trace.NewError(span, "failed to hash package: %w", err)
	}

	if cmd.Sha256 != "" && !strings.EqualFold(cmd.Sha256, sum) {
		return trace.NewError(span, "package checksum mismatch: expected %s, got %s", cmd.Sha256, sum)
	}

	entries, err := archive.ListArchive(ctx, zipFile, res.Bytes)
	if err != nil {
		return trace.NewError(span, "package is not a valid zip: %w", err)
	}

	rows := [][]string{
		{"Content-Type", res.ContentType},
		{"Cache-Control", res.CacheControl},
		{"Size", humanize.Bytes(Int64ToUint64(res.Bytes))},
		{"Entries", fmt.Sprintf("%d", len(entries))},
		{"SHA-256", sum},
	}

	if cmd.ExtractTo != "" {
		extracted, err := archive.ExtractArchive(ctx, zipFile, res.Bytes, cmd.ExtractTo)
		if err != nil {
			return trace.NewError(span, "failed to extract package: %w", err)
		}

		rows = append(rows, []string{"Extracted", fmt.Sprintf("%d files to %s", extracted.WrittenEntries, cmd.ExtractTo)})
	}

	_, _ = globals.Printer.Table("📊 Package:", []string{"Property", "Value"}, rows)

	fmt.Fprintln(globals.Stdout, sum) // write to stdout

	return nil
}

func sha256sum(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
