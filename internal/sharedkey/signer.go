// Package sharedkey issues service SAS tokens locally from a storage account
// key, without a management plane round trip.
package sharedkey

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azsas "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/buildkite/pkgsign/internal/trace"
	"github.com/buildkite/pkgsign/sas"
)

// Signer implements sas.Authorizer for a single storage account.
type Signer struct {
	cred *azblob.SharedKeyCredential
}

var _ sas.Authorizer = (*Signer)(nil)

// NewSigner returns a Signer for the account. The key is the base64 encoded
// account access key.
func NewSigner(accountName, accountKey string) (*Signer, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}
	return &Signer{cred: cred}, nil
}

func (s *Signer) ServiceSAS(ctx context.Context, req sas.TokenRequest) (string, error) {
	_, span := trace.Start(ctx, "Signer.ServiceSAS")
	defer span.End()

	if req.AccountName != s.cred.AccountName() {
		return "", trace.NewError(span, "signer holds a key for %q, not %q", s.cred.AccountName(), req.AccountName)
	}

	if want := "/blob/" + req.AccountName + "/" + req.ContainerName; req.CanonicalizedResource != want {
		return "", trace.NewError(span, "unsupported canonicalized resource %q", req.CanonicalizedResource)
	}

	if req.SignedResource != sas.SignedResourceContainer {
		return "", trace.NewError(span, "unsupported signed resource %q", req.SignedResource)
	}

	values := azsas.BlobSignatureValues{
		Protocol:           azsas.Protocol(req.Protocol),
		StartTime:          req.Window.NotBefore.UTC(),
		ExpiryTime:         req.Window.NotAfter.UTC(),
		Permissions:        req.Permissions,
		ContainerName:      req.ContainerName,
		CacheControl:       req.Hints.CacheControl,
		ContentDisposition: req.Hints.ContentDisposition,
		ContentEncoding:    req.Hints.ContentEncoding,
		ContentType:        req.Hints.ContentType,
	}

	params, err := values.SignWithSharedKey(s.cred)
	if err != nil {
		return "", trace.NewError(span, "failed to sign service sas: %w", err)
	}

	return params.Encode(), nil
}
