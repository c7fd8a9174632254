package sidecar

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

func TestPathFor(t *testing.T) {
	require.Equal(t, filepath.Join("com/acme", ".lib-1.0.jar.json"), PathFor("com/acme/lib-1.0.jar"))
}

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "lib-1.0.jar")
	require.NoError(t, os.WriteFile(artifact, []byte("bytes"), 0o644))

	rec := &Record{
		URL:               "https://repo.example/lib-1.0.jar",
		HeaderMap:         map[string][]string{"content-type": {"application/java-archive"}},
		LocalLastModified: time.Now().Truncate(time.Second).UTC(),
		LocalLastChecked:  time.Now().Truncate(time.Second).UTC(),
		Hash:              [32]byte{1, 2, 3},
	}
	require.NoError(t, Write(artifact, rec))

	got, err := Read(artifact)
	require.NoError(t, err)
	require.Equal(t, rec.URL, got.URL)
	require.Equal(t, rec.Hash, got.Hash)
	require.True(t, rec.LocalLastModified.Equal(got.LocalLastModified))
}

func TestReadMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "nope.jar"))
	rerr, ok := err.(*repoerr.Error)
	require.True(t, ok)
	require.Equal(t, repoerr.NotFound, rerr.Kind)
}

func TestFromResponseDerivesTimestampsAndLowercasesHeaders(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	h := http.Header{
		"Date":          {now.Format(http.TimeFormat)},
		"Content-Type":  {"application/java-archive"},
		"Last-Modified": {now.Add(-time.Hour).Format(http.TimeFormat)},
	}
	rec := FromResponse("https://repo.example/x.jar", h, [32]byte{9}, now.Add(time.Minute))

	require.True(t, rec.LocalLastChecked.Equal(now))
	require.True(t, rec.LocalLastModified.Equal(now.Add(-time.Hour)))
	require.Contains(t, rec.HeaderMap, "content-type")
}

func TestFromResponseFallsBackToNowWhenDateAbsent(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rec := FromResponse("https://repo.example/x.jar", http.Header{}, [32]byte{}, now)
	require.True(t, rec.LocalLastChecked.Equal(now))
	require.True(t, rec.LocalLastModified.Equal(now))
}

func TestWithMonotonicModifiedNeverGoesBackwards(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{LocalLastModified: base}

	older := rec.WithMonotonicModified(base.Add(-time.Hour))
	require.True(t, older.LocalLastModified.Equal(base))

	newer := rec.WithMonotonicModified(base.Add(time.Hour))
	require.True(t, newer.LocalLastModified.Equal(base.Add(time.Hour)))
}
