// Package sas derives time-limited, read-only URLs for blobs in Azure Blob
// Storage.
//
// A Deriver asks an Authorizer for a service shared access signature scoped
// to the blob's container and appends it to the canonical blob endpoint:
//
//	https://{account}.blob.core.windows.net/{container}/{blob}?{token}
//
// Tokens are requested on every call and are never cached.
package sas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidLocator is returned when a BlobLocator has an empty field.
	ErrInvalidLocator = errors.New("invalid blob locator")

	// ErrInvalidWindow is returned when an AccessWindow is inverted or zero length.
	ErrInvalidWindow = errors.New("invalid access window")

	// ErrLocatorResolutionFailed is returned when the authorization service
	// could not issue a token.
	ErrLocatorResolutionFailed = errors.New("locator resolution failed")
)

const (
	// SignedResourceContainer scopes a token to every blob in a container.
	SignedResourceContainer = "c"

	// PermissionRead grants read access.
	PermissionRead = "r"

	// ProtocolHTTPS restricts a token to encrypted transport.
	ProtocolHTTPS = "https"
)

// BlobLocator identifies exactly one blob.
type BlobLocator struct {
	AccountName   string
	ContainerName string
	BlobName      string
}

// Validate checks that every field is populated.
func (l BlobLocator) Validate() error {
	if strings.TrimSpace(l.AccountName) == "" {
		return fmt.Errorf("%w: account name cannot be empty", ErrInvalidLocator)
	}
	if strings.TrimSpace(l.ContainerName) == "" {
		return fmt.Errorf("%w: container name cannot be empty", ErrInvalidLocator)
	}
	if strings.TrimSpace(l.BlobName) == "" {
		return fmt.Errorf("%w: blob name cannot be empty", ErrInvalidLocator)
	}
	return nil
}

// CanonicalizedResource returns the container level resource path used to scope tokens.
func (l BlobLocator) CanonicalizedResource() string {
	return "/blob/" + l.AccountName + "/" + l.ContainerName
}

// Endpoint returns the https URL of the blob without any signature.
func (l BlobLocator) Endpoint() string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", l.AccountName, l.ContainerName, l.BlobName)
}

// AccessWindow is the validity interval of a token, in UTC.
type AccessWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// NewAccessWindow returns a window starting at start and lasting ttl.
func NewAccessWindow(start time.Time, ttl time.Duration) AccessWindow {
	start = start.UTC()
	return AccessWindow{NotBefore: start, NotAfter: start.Add(ttl)}
}

// Validate checks that NotBefore is strictly before NotAfter.
func (w AccessWindow) Validate() error {
	if w.NotBefore.IsZero() || w.NotAfter.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if !w.NotBefore.Before(w.NotAfter) {
		return fmt.Errorf("%w: not before %s must be earlier than not after %s",
			ErrInvalidWindow, w.NotBefore.UTC().Format(time.RFC3339), w.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// ResponseHints are embedded in the token and override the headers the
// storage service returns for requests made with it.
type ResponseHints struct {
	ContentType        string
	CacheControl       string
	ContentDisposition string
	ContentEncoding    string
}

// DefaultResponseHints are the hints applied when none are configured.
var DefaultResponseHints = ResponseHints{
	ContentType:        "application/json",
	CacheControl:       "max-age=5",
	ContentDisposition: "inline",
	ContentEncoding:    "deflate",
}

// TokenRequest is the request sent to the authorization service.
type TokenRequest struct {
	AccountName           string
	ContainerName         string
	CanonicalizedResource string
	SignedResource        string
	Permissions           string
	Protocol              string
	Window                AccessWindow
	Hints                 ResponseHints
}

// Authorizer issues service shared access signatures.
//
// ServiceSAS returns the token as a query string without a leading '?'.
type Authorizer interface {
	ServiceSAS(ctx context.Context, req TokenRequest) (string, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, req TokenRequest) (string, error)

func (fn AuthorizerFunc) ServiceSAS(ctx context.Context, req TokenRequest) (string, error) {
	return fn(ctx, req)
}

// SignedURL is a blob URL carrying a shared access signature.
type SignedURL string

func (u SignedURL) String() string {
	return string(u)
}
