package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/buildkite/pkgsign/internal/trace"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Client downloads blobs through signed URLs.
type Client struct {
	client *http.Client
}

type Result struct {
	Bytes        int64
	ContentType  string
	CacheControl string
	Duration     time.Duration
}

func NewClient(version string) Client {
	client := &http.Client{}

	// gzhttp only decodes gzip and zstd, so a blob served with a
	// Content-Encoding: deflate override arrives byte for byte
	client.Transport = gzhttp.Transport(roundTripperFunc(
		func(req *http.Request) (*http.Response, error) {
			req = req.Clone(req.Context())
			req.Header.Set("User-Agent", fmt.Sprint("pkgsign/", version))
			return http.DefaultTransport.RoundTrip(req)
		}),
	)

	return Client{client: client}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// Download writes the body served at signedURL to destPath.
func (c Client) Download(ctx context.Context, signedURL, destPath string) (*Result, error) {
	ctx, span := trace.Start(ctx, "Client.Download")
	defer span.End()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, http.NoBody)
	if err != nil {
		return nil, trace.NewError(span, "failed to create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, trace.NewError(span, "failed to do request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, trace.NewError(span, "access denied, the signature may be expired or not yet valid: %s", res.Status)
	case http.StatusNotFound:
		return nil, trace.NewError(span, "blob not found: %s", res.Status)
	default:
		return nil, trace.NewError(span, "request failed with status: %s", res.Status)
	}

	destFile, err := os.Create(destPath)
	if err != nil {
		return nil, trace.NewError(span, "failed to create destination file %s: %w", destPath, err)
	}
	defer destFile.Close()

	n, err := io.Copy(destFile, res.Body)
	if err != nil {
		return nil, trace.NewError(span, "failed to read response body: %w", err)
	}

	span.SetAttributes(attribute.Int64("bytes", n))

	log.Debug().
		Int64("bytes", n).
		Str("content_type", res.Header.Get("Content-Type")).
		Str("content_encoding", res.Header.Get("Content-Encoding")).
		Msg("downloaded signed url")

	return &Result{
		Bytes:        n,
		ContentType:  res.Header.Get("Content-Type"),
		CacheControl: res.Header.Get("Cache-Control"),
		Duration:     time.Since(start),
	}, nil
}
