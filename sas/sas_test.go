package sas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlobLocator(t *testing.T) {
	assert := require.New(t)

	l := BlobLocator{AccountName: "acct1", ContainerName: "zips", BlobName: "app.zip"}

	assert.NoError(l.Validate())
	assert.Equal("/blob/acct1/zips", l.CanonicalizedResource())
	assert.Equal("https://acct1.blob.core.windows.net/zips/app.zip", l.Endpoint())
}

func TestNewAccessWindow(t *testing.T) {
	assert := require.New(t)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*60*60))

	w := NewAccessWindow(start, 2*time.Hour)
	assert.NoError(w.Validate())
	assert.Equal(time.UTC, w.NotBefore.Location())
	assert.Equal(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), w.NotBefore)
	assert.Equal(time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC), w.NotAfter)

	w = NewAccessWindow(start, -time.Hour)
	assert.ErrorIs(w.Validate(), ErrInvalidWindow)
}
