package pkgsign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildkite/pkgsign/artifact"
	"github.com/buildkite/pkgsign/internal/archive"
	"github.com/buildkite/pkgsign/sas"
)

// mockAuthorizer implements sas.Authorizer and records every request
type mockAuthorizer struct {
	mu       sync.Mutex
	requests []sas.TokenRequest
	err      error
}

func (m *mockAuthorizer) ServiceSAS(ctx context.Context, req sas.TokenRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	return "sv=2023-05-01&sig=abc", nil
}

func writeDist(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

// captureLogs routes the global logger to a buffer at warn level for the
// duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	buf := new(bytes.Buffer)
	previous := log.Logger
	log.Logger = zerolog.New(buf).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = previous })

	return buf
}

func newTestPublisher(t *testing.T, auth sas.Authorizer, artifacts ...artifact.Artifact) (*Publisher, string) {
	t.Helper()

	bucketDir := t.TempDir()
	publisher, err := New(Config{
		Authorizer: auth,
		Account:    "dpmstore",
		Container:  "zips",
		BucketURL:  "file://" + filepath.ToSlash(bucketDir),
		Prefix:     "releases",
		Env:        map[string]string{"BUILD_NUMBER": "42"},
		Artifacts:  artifacts,
	})
	require.NoError(t, err)

	return publisher, bucketDir
}

func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		errMsg string
	}{
		{
			name:   "missing authorizer",
			cfg:    Config{Account: "dpmstore", Container: "zips"},
			errMsg: "authorizer is required",
		},
		{
			name:   "bad account",
			cfg:    Config{Authorizer: &mockAuthorizer{}, Account: "DPM", Container: "zips"},
			errMsg: "account: can only contain lowercase letters and numbers",
		},
		{
			name:   "no artifacts",
			cfg:    Config{Authorizer: &mockAuthorizer{}, Account: "dpmstore", Container: "zips", Env: map[string]string{}},
			errMsg: "no artifacts configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfiguration)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestGetArtifact(t *testing.T) {
	assert := require.New(t)

	publisher, _ := newTestPublisher(t, &mockAuthorizer{},
		artifact.Artifact{ID: "api", Path: "dist/api", Blob: `dpm-{{ id }}-{{ env "BUILD_NUMBER" }}.zip`},
	)

	a, err := publisher.GetArtifact("api")
	assert.NoError(err)
	assert.Equal("dpm-api-42.zip", a.Blob)
	assert.Len(publisher.Artifacts(), 1)

	_, err = publisher.GetArtifact("missing")
	assert.ErrorIs(err, ErrArtifactNotFound)
}

func TestPublish(t *testing.T) {
	assert := require.New(t)

	dist := writeDist(t, map[string]string{
		"index.html":      "<html></html>",
		"bin/app.dll":     "binary",
		"bin/app.pdb":     "symbols",
		"wwwroot/app.css": "body{}",
	})

	auth := &mockAuthorizer{}
	var stages []string
	var mu sync.Mutex

	publisher, bucketDir := newTestPublisher(t, auth,
		artifact.Artifact{ID: "api", Path: dist, Blob: `dpm-{{ id }}-{{ env "BUILD_NUMBER" }}.zip`, Exclude: []string{"**/*.pdb"}},
	)
	publisher.onProgress = func(id, stage, message string) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, stage)
	}

	window := sas.AccessWindow{
		NotBefore: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	result, err := publisher.Publish(context.Background(), "api", window)
	assert.NoError(err)

	assert.Equal("api", result.ID)
	assert.Equal("releases/dpm-api-42.zip", result.Blob)
	assert.Equal(sas.SignedURL("https://dpmstore.blob.core.windows.net/zips/releases/dpm-api-42.zip?sv=2023-05-01&sig=abc"), result.URL)
	assert.Equal(AppSetting{Name: artifact.DefaultAppSetting, Value: result.URL.String()}, result.Setting)
	assert.Equal([]string{"building_archive", "uploading", "signing", "complete"}, stages)
	assert.Equal(result.Archive.Size, result.Transfer.BytesTransferred)
	assert.NotEmpty(result.Archive.Sha256Sum)

	assert.Len(auth.requests, 1)
	req := auth.requests[0]
	assert.Equal("/blob/dpmstore/zips", req.CanonicalizedResource)
	assert.Equal(sas.DefaultResponseHints, req.Hints)
	assert.Equal(window, req.Window)

	uploaded, err := os.Open(filepath.Join(bucketDir, "releases", "dpm-api-42.zip"))
	assert.NoError(err)
	defer uploaded.Close()

	stat, err := uploaded.Stat()
	assert.NoError(err)

	entries, err := archive.ListArchive(context.Background(), uploaded, stat.Size())
	assert.NoError(err)
	assert.Contains(entries, "index.html")
	assert.Contains(entries, "bin/app.dll")
	assert.Contains(entries, "wwwroot/app.css")
	assert.NotContains(entries, "bin/app.pdb")
}

func TestPublish_Errors(t *testing.T) {
	dist := writeDist(t, map[string]string{"index.html": "hi"})
	window := sas.NewAccessWindow(time.Now(), time.Hour)

	t.Run("unknown artifact", func(t *testing.T) {
		publisher, _ := newTestPublisher(t, &mockAuthorizer{}, artifact.Artifact{ID: "api", Path: dist})

		_, err := publisher.Publish(context.Background(), "web", window)
		require.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("invalid window uploads nothing", func(t *testing.T) {
		auth := &mockAuthorizer{}
		publisher, bucketDir := newTestPublisher(t, auth, artifact.Artifact{ID: "api", Path: dist})

		now := time.Now()
		_, err := publisher.Publish(context.Background(), "api", sas.AccessWindow{NotBefore: now, NotAfter: now})
		require.ErrorIs(t, err, sas.ErrInvalidWindow)

		entries, err := os.ReadDir(bucketDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, auth.requests)
	})

	t.Run("missing dist directory", func(t *testing.T) {
		publisher, _ := newTestPublisher(t, &mockAuthorizer{}, artifact.Artifact{ID: "api", Path: filepath.Join(dist, "missing")})

		_, err := publisher.Publish(context.Background(), "api", window)
		require.ErrorContains(t, err, "failed to build archive")
	})

	t.Run("authorizer failure", func(t *testing.T) {
		logs := captureLogs(t)
		publisher, bucketDir := newTestPublisher(t, &mockAuthorizer{err: errors.New("forbidden")}, artifact.Artifact{ID: "api", Path: dist})

		result, err := publisher.Publish(context.Background(), "api", window)
		require.ErrorIs(t, err, sas.ErrLocatorResolutionFailed)
		require.ErrorContains(t, err, "forbidden")

		// the upload already happened, so the blob key is reported
		require.Equal(t, "releases/api.zip", result.Blob)
		require.FileExists(t, filepath.Join(bucketDir, "releases", "api.zip"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "blob uploaded but not signed", entry["message"])
		assert.Equal(t, "releases/api.zip", entry["blob"])
		assert.Equal(t, "zips", entry["container"])
		assert.Contains(t, entry["error"], "forbidden")
	})
}

func TestPublishAll(t *testing.T) {
	assert := require.New(t)

	api := writeDist(t, map[string]string{"api.dll": "api"})
	app := writeDist(t, map[string]string{"index.html": "app"})

	auth := &mockAuthorizer{}
	publisher, _ := newTestPublisher(t, auth,
		artifact.Artifact{ID: "api", Path: api},
		artifact.Artifact{ID: "app", Path: app, AppSetting: "APP_PACKAGE"},
	)

	var calls atomic.Int32
	publisher.onProgress = func(id, stage, message string) {
		if stage == "complete" {
			calls.Add(1)
		}
	}

	results, err := publisher.PublishAll(context.Background(), sas.NewAccessWindow(time.Now(), time.Hour))
	assert.NoError(err)
	assert.Len(results, 2)
	assert.Equal("api", results[0].ID)
	assert.Equal("releases/api.zip", results[0].Blob)
	assert.Equal("app", results[1].ID)
	assert.Equal("APP_PACKAGE", results[1].Setting.Name)
	assert.Equal(int32(2), calls.Load())
	assert.Len(auth.requests, 2)
}

func TestPublishAll_Failure(t *testing.T) {
	api := writeDist(t, map[string]string{"api.dll": "api"})

	publisher, _ := newTestPublisher(t, &mockAuthorizer{},
		artifact.Artifact{ID: "api", Path: api},
		artifact.Artifact{ID: "app", Path: filepath.Join(api, "missing")},
	)

	_, err := publisher.PublishAll(context.Background(), sas.NewAccessWindow(time.Now(), time.Hour))
	require.ErrorContains(t, err, "artifact app")
}

func TestSign(t *testing.T) {
	assert := require.New(t)

	auth := &mockAuthorizer{}
	publisher, _ := newTestPublisher(t, auth, artifact.Artifact{ID: "api", Path: "dist/api"})

	url, err := publisher.Sign(context.Background(), "dpm-api.zip", sas.NewAccessWindow(time.Now(), time.Hour))
	assert.NoError(err)
	assert.Equal("https://dpmstore.blob.core.windows.net/zips/releases/dpm-api.zip?sv=2023-05-01&sig=abc", url.String())

	_, err = publisher.Sign(context.Background(), " ", sas.NewAccessWindow(time.Now(), time.Hour))
	assert.ErrorIs(err, sas.ErrInvalidLocator)
	assert.Len(auth.requests, 1)
}

func TestCallProgress_RecoversPanic(t *testing.T) {
	publisher, _ := newTestPublisher(t, &mockAuthorizer{}, artifact.Artifact{ID: "api", Path: "dist/api"})
	publisher.onProgress = func(id, stage, message string) {
		panic("boom")
	}

	assert.NotPanics(t, func() {
		publisher.callProgress("api", "complete", "done")
	})
}
