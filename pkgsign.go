// Package pkgsign publishes run-from-package archives to Azure Blob Storage
// and derives time-limited, read-only URLs for them.
//
// The main entry point is New, which creates a Publisher for a storage
// account and container. A Publisher is safe for concurrent use by multiple
// goroutines.
//
// Basic usage:
//
//	cred, _ := azidentity.NewDefaultAzureCredential(nil)
//	authorizer, _ := arm.NewClient(ctx, arm.Config{...Credential: cred})
//	publisher, err := pkgsign.New(pkgsign.Config{
//	    Authorizer: authorizer,
//	    Account:    "dpmstore",
//	    Container:  "zips",
//	    Artifacts: []artifact.Artifact{
//	        {ID: "api", Path: "dist/api", Blob: "dpm-api.zip"},
//	        {ID: "app", Path: "dist/app", Blob: "dpm-app.zip"},
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	window := sas.NewAccessWindow(time.Now(), 24*time.Hour)
//	results, err := publisher.PublishAll(ctx, window)
package pkgsign

import (
	"errors"
	"time"

	"github.com/buildkite/pkgsign/artifact"
	"github.com/buildkite/pkgsign/sas"
)

var (
	// ErrArtifactNotFound is returned when a requested artifact ID doesn't
	// exist in the publisher's configuration.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidConfiguration is returned when configuration validation fails
	// during publisher creation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Config holds all configuration for creating a Publisher.
type Config struct {
	// Authorizer issues the SAS tokens (required). See internal/arm and
	// internal/sharedkey for the two implementations the CLI wires up.
	Authorizer sas.Authorizer

	// Account is the storage account name (required).
	Account string

	// Container is the blob container artifacts are published to (required).
	Container string

	// BucketURL overrides the gocloud.dev bucket used for uploads. Defaults to
	// the azblob:// URL of Account/Container. Tests use file:// URLs.
	BucketURL string

	// Prefix is prepended to every blob name.
	Prefix string

	// Hints overrides sas.DefaultResponseHints.
	Hints *sas.ResponseHints

	// Env is used for blob name template expansion. If nil, the OS
	// environment is used.
	Env map[string]string

	// Artifacts is the list of artifacts to manage. Blob names are expanded
	// and validated by New.
	Artifacts []artifact.Artifact

	// OnProgress is an optional callback for progress updates. It may be
	// called from multiple goroutines.
	OnProgress ProgressCallback
}

// ProgressCallback reports the stage an artifact has reached.
//
// Publish stages: "building_archive", "uploading", "signing", "complete".
type ProgressCallback func(id string, stage string, message string)

// PublishResult describes one published artifact.
type PublishResult struct {
	// ID is the artifact ID.
	ID string

	// Blob is the full blob name, including any prefix.
	Blob string

	// URL is the signed read URL of the blob.
	URL sas.SignedURL

	// Setting is the app setting that points a web app at the package.
	Setting AppSetting

	// Archive contains information about the archive that was built.
	Archive ArchiveMetrics

	// Transfer contains information about the upload.
	Transfer TransferMetrics

	// Window is the validity interval of URL.
	Window sas.AccessWindow

	// TotalDuration is the end-to-end duration of the publish operation.
	TotalDuration time.Duration
}

// AppSetting is a name/value pair for a web app's configuration.
type AppSetting struct {
	Name  string
	Value string
}

// ArchiveMetrics contains metrics about an archive build.
type ArchiveMetrics struct {
	// Size is the total size of the archive file in bytes (compressed).
	Size int64

	// WrittenBytes is the uncompressed size of all files in bytes.
	WrittenBytes int64

	// WrittenEntries is the number of files/directories in the archive.
	WrittenEntries int64

	// CompressionRatio is WrittenBytes / Size.
	CompressionRatio float64

	// Sha256Sum is the SHA-256 hash of the archive file.
	Sha256Sum string

	// Duration is how long the archive build took.
	Duration time.Duration
}

// TransferMetrics contains metrics about an upload.
type TransferMetrics struct {
	BytesTransferred int64

	// TransferSpeed is the transfer rate in MB/s.
	TransferSpeed float64

	Duration time.Duration
}
