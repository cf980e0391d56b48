package sas

import (
	"context"
	"errors"
	"fmt"

	"github.com/buildkite/pkgsign/internal/trace"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Deriver builds signed read URLs. It holds no mutable state and is safe for
// concurrent use.
type Deriver struct {
	authorizer Authorizer
	hints      ResponseHints
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithResponseHints overrides DefaultResponseHints.
func WithResponseHints(hints ResponseHints) Option {
	return func(d *Deriver) {
		d.hints = hints
	}
}

// NewDeriver returns a Deriver that requests tokens from authorizer.
func NewDeriver(authorizer Authorizer, opts ...Option) *Deriver {
	d := &Deriver{
		authorizer: authorizer,
		hints:      DefaultResponseHints,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeriveReadURL returns a URL granting read access to the blob named by
// locator for the duration of window.
//
// The token is scoped to the whole container, so the URL's signature is also
// valid for every other blob in it.
func (d *Deriver) DeriveReadURL(ctx context.Context, locator BlobLocator, window AccessWindow) (SignedURL, error) {
	ctx, span := trace.Start(ctx, "Deriver.DeriveReadURL")
	defer span.End()

	if err := locator.Validate(); err != nil {
		return "", trace.NewError(span, "failed to derive read url: %w", err)
	}
	if err := window.Validate(); err != nil {
		return "", trace.NewError(span, "failed to derive read url: %w", err)
	}

	span.SetAttributes(
		attribute.String("account", locator.AccountName),
		attribute.String("container", locator.ContainerName),
		attribute.String("blob", locator.BlobName),
	)

	req := TokenRequest{
		AccountName:           locator.AccountName,
		ContainerName:         locator.ContainerName,
		CanonicalizedResource: locator.CanonicalizedResource(),
		SignedResource:        SignedResourceContainer,
		Permissions:           PermissionRead,
		Protocol:              ProtocolHTTPS,
		Window: AccessWindow{
			NotBefore: window.NotBefore.UTC(),
			NotAfter:  window.NotAfter.UTC(),
		},
		Hints: d.hints,
	}

	log.Debug().
		Str("canonicalized_resource", req.CanonicalizedResource).
		Time("not_before", req.Window.NotBefore).
		Time("not_after", req.Window.NotAfter).
		Msg("requesting service sas")

	token, err := d.authorizer.ServiceSAS(ctx, req)
	if err != nil {
		return "", trace.NewError(span, "%w: %w", ErrLocatorResolutionFailed, err)
	}

	// a token that arrives after cancellation is dropped
	if err := ctx.Err(); err != nil {
		return "", trace.NewError(span, "%w: %w", ErrLocatorResolutionFailed, err)
	}

	if token == "" {
		return "", trace.NewError(span, "%w: authorizer returned an empty token", ErrLocatorResolutionFailed)
	}

	return SignedURL(locator.Endpoint() + "?" + token), nil
}

// DeriveReadURLs derives a URL for each locator concurrently. Results are in
// the same order as locators. The first failure cancels the remaining
// requests and is returned.
func (d *Deriver) DeriveReadURLs(ctx context.Context, locators []BlobLocator, window AccessWindow) ([]SignedURL, error) {
	ctx, span := trace.Start(ctx, "Deriver.DeriveReadURLs")
	defer span.End()

	if len(locators) == 0 {
		return nil, trace.NewError(span, "%w: no locators provided", ErrInvalidLocator)
	}

	urls := make([]SignedURL, len(locators))

	g, ctx := errgroup.WithContext(ctx)
	for i, locator := range locators {
		g.Go(func() error {
			u, err := d.DeriveReadURL(ctx, locator, window)
			if err != nil {
				return fmt.Errorf("blob %q: %w", locator.BlobName, err)
			}
			urls[i] = u
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return urls, nil
}

// IsResolutionFailure reports whether err came from the authorization service
// rather than from input validation.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrLocatorResolutionFailed)
}
