package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildkite/pkgsign/sas"
)

func TestSignCmd(t *testing.T) {
	assert := require.New(t)

	var (
		mu   sync.Mutex
		seen []sas.TokenRequest
	)
	auth := sas.AuthorizerFunc(func(ctx context.Context, req sas.TokenRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req)
		return "sig=abc", nil
	})

	globals, stdout := newTestGlobals(auth)
	globals.Common.Prefix = "releases"
	globals.Common.ContentType = "application/zip"

	cmd := &SignCmd{
		WindowFlags: WindowFlags{TTL: time.Hour},
		Blobs:       []string{"dpm-api.zip", "dpm-app.zip"},
	}

	err := cmd.Run(context.Background(), globals)
	assert.NoError(err)
	assert.Equal(
		"https://dpmstore.blob.core.windows.net/zips/releases/dpm-api.zip?sig=abc\n"+
			"https://dpmstore.blob.core.windows.net/zips/releases/dpm-app.zip?sig=abc\n",
		stdout.String())

	assert.Len(seen, 2)
	assert.Equal("application/zip", seen[0].Hints.ContentType)
	assert.Equal(time.Hour+ClockSkew, seen[0].Window.NotAfter.Sub(seen[0].Window.NotBefore))
	assert.True(seen[0].Window.NotBefore.Before(time.Now().Add(-ClockSkew+time.Second)))
}

func TestSignCmd_BlobNamesVerbatim(t *testing.T) {
	assert := require.New(t)

	auth := sas.AuthorizerFunc(func(ctx context.Context, req sas.TokenRequest) (string, error) {
		return "sig=abc", nil
	})

	globals, stdout := newTestGlobals(auth)
	globals.Common.Prefix = "releases"

	err := (&SignCmd{WindowFlags: WindowFlags{TTL: time.Hour}, Blobs: []string{"v1//dpm-api.zip", "./dpm-app.zip"}}).Run(context.Background(), globals)
	assert.NoError(err)
	assert.Equal(
		"https://dpmstore.blob.core.windows.net/zips/releases/v1//dpm-api.zip?sig=abc\n"+
			"https://dpmstore.blob.core.windows.net/zips/releases/./dpm-app.zip?sig=abc\n",
		stdout.String())
}

func TestSignCmd_Check(t *testing.T) {
	assert := require.New(t)

	bucketDir := t.TempDir()
	assert.NoError(os.WriteFile(filepath.Join(bucketDir, "dpm-api.zip"), []byte("PK"), 0o600))

	auth := sas.AuthorizerFunc(func(ctx context.Context, req sas.TokenRequest) (string, error) {
		return "sig=abc", nil
	})

	globals, stdout := newTestGlobals(auth)
	globals.Common.BucketURL = "file://" + filepath.ToSlash(bucketDir)

	err := (&SignCmd{WindowFlags: WindowFlags{TTL: time.Hour}, Check: true, Blobs: []string{"dpm-api.zip"}}).Run(context.Background(), globals)
	assert.NoError(err)
	assert.Equal("https://dpmstore.blob.core.windows.net/zips/dpm-api.zip?sig=abc\n", stdout.String())
}

func TestSignCmd_Errors(t *testing.T) {
	auth := sas.AuthorizerFunc(func(ctx context.Context, req sas.TokenRequest) (string, error) {
		return "", errors.New("AuthorizationFailed")
	})

	t.Run("authorizer failure", func(t *testing.T) {
		globals, stdout := newTestGlobals(auth)

		err := (&SignCmd{WindowFlags: WindowFlags{TTL: time.Hour}, Blobs: []string{"dpm-api.zip"}}).Run(context.Background(), globals)
		require.ErrorIs(t, err, sas.ErrLocatorResolutionFailed)
		require.Empty(t, stdout.String())
	})

	t.Run("invalid window", func(t *testing.T) {
		globals, _ := newTestGlobals(auth)

		err := (&SignCmd{Blobs: []string{"dpm-api.zip"}}).Run(context.Background(), globals)
		require.ErrorIs(t, err, sas.ErrInvalidWindow)
	})

	t.Run("missing blob", func(t *testing.T) {
		globals, _ := newTestGlobals(auth)
		globals.Common.BucketURL = "file://" + filepath.ToSlash(t.TempDir())

		err := (&SignCmd{WindowFlags: WindowFlags{TTL: time.Hour}, Check: true, Blobs: []string{"dpm-api.zip"}}).Run(context.Background(), globals)
		require.ErrorContains(t, err, "blob does not exist: dpm-api.zip")
	})

	t.Run("missing account", func(t *testing.T) {
		globals, _ := newTestGlobals(auth)
		globals.Common.Account = ""

		err := (&SignCmd{WindowFlags: WindowFlags{TTL: time.Hour}, Blobs: []string{"dpm-api.zip"}}).Run(context.Background(), globals)
		require.ErrorIs(t, err, sas.ErrInvalidLocator)
	})
}
