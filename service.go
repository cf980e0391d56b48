package pkgsign

import (
	"fmt"
	"strings"

	"github.com/buildkite/pkgsign/artifact"
	"github.com/buildkite/pkgsign/configuration"
	"github.com/buildkite/pkgsign/internal/store"
	"github.com/buildkite/pkgsign/sas"
)

// Publisher builds, uploads and signs the configured artifacts.
type Publisher struct {
	account    string
	container  string
	bucketURL  string
	prefix     string
	deriver    *sas.Deriver
	artifacts  []artifact.Artifact
	onProgress ProgressCallback
}

// New creates and validates a new publisher.
//
// This function:
//  1. Validates the destination account and container
//  2. Expands blob name templates using cfg.Env (if provided)
//  3. Validates all artifact configurations
//  4. Returns a ready-to-use publisher
//
// Returns an error wrapping ErrInvalidConfiguration if any step fails.
func New(cfg Config) (*Publisher, error) {
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("%w: authorizer is required", ErrInvalidConfiguration)
	}

	dest := artifact.Destination{Account: cfg.Account, Container: cfg.Container}
	if err := dest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	var (
		expanded []artifact.Artifact
		err      error
	)

	if cfg.Env != nil {
		expanded, err = configuration.ExpandArtifactsWithEnv(cfg.Artifacts, cfg.Env)
	} else {
		expanded, err = configuration.ExpandArtifacts(cfg.Artifacts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to expand artifact configuration: %w", ErrInvalidConfiguration, err)
	}

	bucketURL := cfg.BucketURL
	if bucketURL == "" {
		bucketURL = store.AzureBucketURL(cfg.Account, cfg.Container)
	}

	var opts []sas.Option
	if cfg.Hints != nil {
		opts = append(opts, sas.WithResponseHints(*cfg.Hints))
	}

	return &Publisher{
		account:    cfg.Account,
		container:  cfg.Container,
		bucketURL:  bucketURL,
		prefix:     cfg.Prefix,
		deriver:    sas.NewDeriver(cfg.Authorizer, opts...),
		artifacts:  expanded,
		onProgress: cfg.OnProgress,
	}, nil
}

// Artifacts returns the expanded artifact configurations.
func (p *Publisher) Artifacts() []artifact.Artifact {
	return p.artifacts
}

// GetArtifact returns a specific artifact configuration by ID.
//
// Returns ErrArtifactNotFound if the ID is not configured.
func (p *Publisher) GetArtifact(id string) (artifact.Artifact, error) {
	a, err := p.findArtifact(id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return *a, nil
}

// Locator returns the blob locator of a blob name in the publisher's
// container. A blank name is left blank so that validation rejects it.
func (p *Publisher) Locator(blob string) sas.BlobLocator {
	if strings.TrimSpace(blob) != "" {
		blob = store.FullKey(p.prefix, blob)
	}
	return sas.BlobLocator{
		AccountName:   p.account,
		ContainerName: p.container,
		BlobName:      blob,
	}
}

// callProgress safely calls the progress callback if it exists
func (p *Publisher) callProgress(id, stage, message string) {
	if p.onProgress != nil {
		defer func() {
			_ = recover() // user callbacks shouldn't break a publish
		}()
		p.onProgress(id, stage, message)
	}
}

func (p *Publisher) findArtifact(id string) (*artifact.Artifact, error) {
	for i := range p.artifacts {
		if p.artifacts[i].ID == id {
			return &p.artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
}
