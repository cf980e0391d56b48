package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildkite/pkgsign"
	"github.com/buildkite/pkgsign/configuration"
	"github.com/buildkite/pkgsign/internal/trace"
)

type PublishCmd struct {
	WindowFlags

	Manifest string   `flag:"manifest" help:"The artifact manifest." default:"${default_config_path}" env:"PKGSIGN_MANIFEST"`
	IDs      []string `arg:"" name:"id" optional:"" help:"Artifacts to publish. Defaults to all of them."`
}

func (cmd *PublishCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, span := trace.Start(ctx, "PublishCmdRun")
	defer span.End()

	log.Info().Str("version", globals.Version).Msg("Running PublishCmd")

	span.SetAttributes(
		attribute.String("manifest", cmd.Manifest),
		attribute.StringSlice("ids", cmd.IDs),
	)

	window, err := cmd.Window(time.Now())
	if err != nil {
		return trace.NewError(span, "failed to resolve access window: %w", err)
	}

	artifacts, err := configuration.LoadFile(cmd.Manifest)
	if err != nil {
		return trace.NewError(span, "failed to load manifest: %w", err)
	}

	hints := globals.Common.Hints()

	publisher, err := pkgsign.New(pkgsign.Config{
		Authorizer: globals.Authorizer,
		Account:    globals.Common.Account,
		Container:  globals.Common.Container,
		BucketURL:  globals.Common.BucketURL,
		Prefix:     globals.Common.Prefix,
		Hints:      &hints,
		Artifacts:  artifacts,
		OnProgress: func(id, stage, message string) {
			log.Debug().Str("id", id).Str("stage", stage).Msg(message)
		},
	})
	if err != nil {
		return trace.NewError(span, "failed to create publisher: %w", err)
	}

	globals.Printer.Info("📦", "Publishing to %s/%s, URLs valid until %s",
		globals.Common.Account, globals.Common.Container, window.NotAfter.Format(time.RFC3339))

	var results []pkgsign.PublishResult

	if len(cmd.IDs) == 0 {
		results, err = publisher.PublishAll(ctx, window)
		if err != nil {
			return trace.NewError(span, "failed to publish artifacts: %w", err)
		}
	} else {
		for _, id := range cmd.IDs {
			result, err := publisher.Publish(ctx, id, window)
			if err != nil {
				return trace.NewError(span, "failed to publish artifact %s: %w", id, err)
			}
			results = append(results, result)
		}
	}

	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.ID,
			result.Blob,
			humanize.Bytes(Int64ToUint64(result.Archive.Size)),
			fmt.Sprintf("%d", result.Archive.WrittenEntries),
			fmt.Sprintf("%.2f", result.Archive.CompressionRatio),
			fmt.Sprintf("%.2fMB/s", result.Transfer.TransferSpeed),
			result.TotalDuration.Round(time.Millisecond).String(),
		})

		log.Info().
			Str("id", result.ID).
			Str("blob", result.Blob).
			Str("sha256sum", result.Archive.Sha256Sum).
			Int64("bytes_transferred", result.Transfer.BytesTransferred).
			Dur("duration_ms", result.TotalDuration).
			Msg("artifact published")

		fmt.Fprintf(globals.Stdout, "%s=%s\n", result.Setting.Name, result.Setting.Value) // write to stdout
	}

	_, _ = globals.Printer.Table("📊 Publish summary:",
		[]string{"ID", "Blob", "Size", "Entries", "Ratio", "Speed", "Duration"}, rows)

	globals.Printer.Success("🎉", "Published %d artifact(s)", len(results))

	return nil
}
