package archive

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDist(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	files := map[string]string{
		"app.dll":                 "dll contents",
		"appsettings.json":        `{"Logging":{}}`,
		"wwwroot/index.html":      "<html></html>",
		"wwwroot/css/site.css":    "body {}",
		"obj/Debug/cache.txt":     "intermediate",
		"wwwroot/css/site.css.gz": "compressed",
	}

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return dir
}

func TestBuildArchive(t *testing.T) {
	assert := require.New(t)

	src := writeDist(t)

	info, err := BuildArchive(context.Background(), src, []string{"obj/**", "**/*.gz"}, "dpm-api")
	assert.NoError(err)
	defer os.Remove(info.ArchivePath)

	assert.Greater(info.Size, int64(0))
	assert.Equal(int64(len("dll contents")+len(`{"Logging":{}}`)+len("<html></html>")+len("body {}")), info.WrittenBytes)
	assert.Greater(info.CompressionRatio(), 0.0)

	data, err := os.ReadFile(info.ArchivePath)
	assert.NoError(err)
	assert.Equal(fmt.Sprintf("%x", sha256.Sum256(data)), info.Sha256sum)

	f, err := os.Open(info.ArchivePath)
	assert.NoError(err)
	defer f.Close()

	entries, err := ListArchive(context.Background(), f, info.Size)
	assert.NoError(err)
	assert.ElementsMatch([]string{
		"app.dll",
		"appsettings.json",
		"wwwroot/",
		"wwwroot/index.html",
		"wwwroot/css/",
		"wwwroot/css/site.css",
	}, entries)
	assert.Equal(int64(len(entries)), info.WrittenEntries)
}

func TestBuildArchive_Errors(t *testing.T) {
	assert := require.New(t)

	_, err := BuildArchive(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, "missing")
	assert.ErrorContains(err, "failed to stat source directory")

	file := filepath.Join(t.TempDir(), "file.txt")
	assert.NoError(os.WriteFile(file, []byte("x"), 0o600))

	_, err = BuildArchive(context.Background(), file, nil, "file")
	assert.ErrorContains(err, "source is not a directory")

	_, err = BuildArchive(context.Background(), t.TempDir(), []string{"[unterminated"}, "bad")
	assert.ErrorContains(err, "invalid exclude pattern")
}

func TestBuildArchive_Cancelled(t *testing.T) {
	assert := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildArchive(ctx, writeDist(t), nil, "cancelled")
	assert.ErrorIs(err, context.Canceled)
}

func TestBuildAndExtractArchive(t *testing.T) {
	assert := require.New(t)

	src := writeDist(t)

	info, err := BuildArchive(context.Background(), src, []string{"obj/**"}, "dpm-app")
	assert.NoError(err)
	defer os.Remove(info.ArchivePath)

	f, err := os.Open(info.ArchivePath)
	assert.NoError(err)
	defer f.Close()

	dest := t.TempDir()

	extracted, err := ExtractArchive(context.Background(), f, info.Size, dest)
	assert.NoError(err)
	assert.Greater(extracted.WrittenBytes, int64(0))

	for _, name := range []string{"app.dll", "appsettings.json", "wwwroot/index.html", "wwwroot/css/site.css.gz"} {
		want, err := os.ReadFile(filepath.Join(src, filepath.FromSlash(name)))
		assert.NoError(err)
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		assert.NoError(err)
		assert.Equal(want, got, name)
	}

	_, err = os.Stat(filepath.Join(dest, "obj"))
	assert.True(os.IsNotExist(err))
}
