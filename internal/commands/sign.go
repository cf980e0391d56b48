package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildkite/pkgsign/internal/store"
	"github.com/buildkite/pkgsign/internal/trace"
	"github.com/buildkite/pkgsign/sas"
)

type SignCmd struct {
	WindowFlags

	Check bool     `flag:"check" help:"Fail if a blob does not exist in the container."`
	Blobs []string `arg:"" name:"blob" help:"Blob names to sign, relative to the prefix."`
}

func (cmd *SignCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, span := trace.Start(ctx, "SignCmdRun")
	defer span.End()

	log.Info().Str("version", globals.Version).Msg("Running SignCmd")

	span.SetAttributes(
		attribute.String("account", globals.Common.Account),
		attribute.String("container", globals.Common.Container),
		attribute.StringSlice("blobs", cmd.Blobs),
	)

	window, err := cmd.Window(time.Now())
	if err != nil {
		return trace.NewError(span, "failed to resolve access window: %w", err)
	}

	locators := make([]sas.BlobLocator, len(cmd.Blobs))
	for i, blob := range cmd.Blobs {
		locators[i] = sas.BlobLocator{
			AccountName:   globals.Common.Account,
			ContainerName: globals.Common.Container,
			BlobName:      store.FullKey(globals.Common.Prefix, blob),
		}
	}

	if cmd.Check {
		if err := checkBlobsExist(ctx, globals.Common, cmd.Blobs); err != nil {
			return trace.NewError(span, "failed to check blobs: %w", err)
		}
	}

	deriver := sas.NewDeriver(globals.Authorizer, sas.WithResponseHints(globals.Common.Hints()))

	globals.Printer.Info("🔏", "Signing %d blob(s) valid from %s until %s",
		len(locators), window.NotBefore.Format(time.RFC3339), window.NotAfter.Format(time.RFC3339))

	urls, err := deriver.DeriveReadURLs(ctx, locators, window)
	if err != nil {
		return trace.NewError(span, "failed to sign blobs: %w", err)
	}

	for _, url := range urls {
		fmt.Fprintln(globals.Stdout, url) // write to stdout
	}

	globals.Printer.Success("✅", "Signed %d blob(s)", len(urls))

	return nil
}

func checkBlobsExist(ctx context.Context, common CommonFlags, blobs []string) error {
	bucketURL := common.BucketURL
	if bucketURL == "" {
		bucketURL = store.AzureBucketURL(common.Account, common.Container)
	}

	blobStore, err := store.NewGocloudBlob(ctx, bucketURL, common.Prefix)
	if err != nil {
		return err
	}
	defer blobStore.Close()

	for _, blob := range blobs {
		exists, err := blobStore.Exists(ctx, blob)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("blob does not exist: %s", store.FullKey(common.Prefix, blob))
		}
	}

	return nil
}
